// Command track-plot renders a PNG of a tag's estimated track: position
// estimates connected in bucket order, error bars for the confidence
// bounds, and the fixed receiver nodes for reference.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/wildtrack-data/telemetry.report/internal/db"
	"github.com/wildtrack-data/telemetry.report/internal/telemetry"
)

var (
	dbPath = flag.String("db", "telemetry.db", "Path to the sqlite database")
	tagID  = flag.String("tag", "", "Tag to plot (required)")
	runID  = flag.String("run", "", "Run to plot (default: latest)")
	out    = flag.String("out", "", "Output PNG path (default: track_<tag>.png)")
)

func main() {
	flag.Parse()
	if *tagID == "" {
		fmt.Fprintln(os.Stderr, "usage: track-plot -tag <tag-id> [-db path] [-run id] [-out file.png]")
		os.Exit(2)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", *dbPath, err)
	}
	defer database.Close()

	ests, err := database.EstimatesForTag(*runID, *tagID)
	if err != nil {
		log.Fatalf("failed to load estimates: %v", err)
	}
	if len(ests) == 0 {
		log.Fatalf("no estimates for tag %s", *tagID)
	}
	nodes, err := database.LoadNodes()
	if err != nil {
		log.Fatalf("failed to load nodes: %v", err)
	}

	outPath := *out
	if outPath == "" {
		outPath = fmt.Sprintf("track_%s.png", *tagID)
	}

	if err := renderTrack(ests, nodes, *tagID, outPath); err != nil {
		log.Fatalf("failed to render track: %v", err)
	}
	log.Printf("wrote %s (%d estimates)", outPath, len(ests))
}

func renderTrack(ests []telemetry.LocationEstimate, nodes map[string]telemetry.Node, tagID, outPath string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tag %s track", tagID)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	trackPts := make(plotter.XYs, 0, len(ests))
	for _, e := range ests {
		trackPts = append(trackPts, plotter.XY{X: e.X, Y: e.Y})
	}

	trackLine, err := plotter.NewLine(trackPts)
	if err != nil {
		return err
	}
	trackLine.Width = vg.Points(1)
	p.Add(trackLine)
	p.Legend.Add("track", trackLine)

	trackScatter, err := plotter.NewScatter(trackPts)
	if err != nil {
		return err
	}
	p.Add(trackScatter)

	// Confidence bounds as error bars around each estimate.
	bars := boundsXYErrors(ests)
	xErr, err := plotter.NewXErrorBars(bars)
	if err != nil {
		return err
	}
	yErr, err := plotter.NewYErrorBars(bars)
	if err != nil {
		return err
	}
	p.Add(xErr, yErr)

	nodePts := make(plotter.XYs, 0, len(nodes))
	for _, n := range nodes {
		nodePts = append(nodePts, plotter.XY{X: n.X, Y: n.Y})
	}
	nodeScatter, err := plotter.NewScatter(nodePts)
	if err != nil {
		return err
	}
	nodeScatter.Radius = vg.Points(4)
	p.Add(nodeScatter)
	p.Legend.Add("nodes", nodeScatter)

	return p.Save(10*vg.Inch, 10*vg.Inch, outPath)
}

// trackBounds adapts estimates to the plotter error-bar interfaces.
type trackBounds struct {
	ests []telemetry.LocationEstimate
}

func boundsXYErrors(ests []telemetry.LocationEstimate) trackBounds {
	return trackBounds{ests: ests}
}

func (b trackBounds) Len() int { return len(b.ests) }

func (b trackBounds) XY(i int) (float64, float64) { return b.ests[i].X, b.ests[i].Y }

func (b trackBounds) XError(i int) (float64, float64) {
	e := b.ests[i]
	return e.X - e.XLow, e.XHigh - e.X
}

func (b trackBounds) YError(i int) (float64, float64) {
	e := b.ests[i]
	return e.Y - e.YLow, e.YHigh - e.Y
}
