package monitoring

import (
	"fmt"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Logf("solved %d buckets", 7)
	if len(lines) != 1 || lines[0] != "solved 7 buckets" {
		t.Errorf("unexpected capture: %v", lines)
	}

	// nil installs a no-op, not a panic.
	SetLogger(nil)
	Logf("dropped")
	if len(lines) != 1 {
		t.Errorf("no-op logger still captured: %v", lines)
	}
}

func TestTimed(t *testing.T) {
	defer SetLogger(nil)

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Timed("aggregate")()

	if len(lines) != 1 || !strings.Contains(lines[0], "stage aggregate took") {
		t.Errorf("unexpected timing log: %v", lines)
	}
}
