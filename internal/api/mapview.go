package api

import (
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// trackMap renders an HTML scatter plot of a tag's estimated track over the
// fixed node grid using go-echarts. This is a debugging view, not the UI:
// estimates are colored by hour of day so diel movement stands out.
// Query params:
//   - tag (required)
//   - run (optional; defaults to the latest run)
func (s *Server) trackMap(w http.ResponseWriter, r *http.Request) {
	tagID := r.URL.Query().Get("tag")
	if tagID == "" {
		http.Error(w, "tag query parameter is required", http.StatusBadRequest)
		return
	}
	runID := r.URL.Query().Get("run")

	ests, err := s.db.EstimatesForTag(runID, tagID)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load estimates: %v", err), http.StatusInternalServerError)
		return
	}
	nodes, err := s.db.LoadNodes()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load nodes: %v", err), http.StatusInternalServerError)
		return
	}

	maxAbs := 1.0
	nodeData := make([]opts.ScatterData, 0, len(nodes))
	for _, n := range nodes {
		nodeData = append(nodeData, opts.ScatterData{
			Value: []interface{}{n.X, n.Y}, Symbol: "triangle",
		})
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(n.X), math.Abs(n.Y)))
	}

	trackData := make([]opts.ScatterData, 0, len(ests))
	for _, e := range ests {
		trackData = append(trackData, opts.ScatterData{
			Value: []interface{}{e.X, e.Y, e.Hour},
		})
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(e.X), math.Abs(e.Y)))
	}

	pad := maxAbs * 1.05

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Tag Track", Theme: "dark", Width: "900px", Height: "900px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Tag %s", tagID),
			Subtitle: fmt.Sprintf("estimates=%d nodes=%d", len(ests), len(nodes)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(23),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)

	scatter.AddSeries("nodes", nodeData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	scatter.AddSeries("estimates", trackData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := scatter.Render(w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
	}
}
