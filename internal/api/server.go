// Package api serves the localization results over HTTP: node anchors, run
// summaries, per-tag estimates and an interactive track map.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/wildtrack-data/telemetry.report/internal/db"
)

type Server struct {
	db *db.DB
}

func NewServer(database *db.DB) *Server {
	return &Server{db: database}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/nodes", s.listNodes)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/estimates", s.listEstimates)
	mux.HandleFunc("/map", s.trackMap)
	mux.HandleFunc("/", s.homeHandler)
	s.db.AttachAdminRoutes(mux)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("wildtrack telemetry server\n"))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nodes, err := s.db.LoadNodes()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load nodes: %v", err), http.StatusInternalServerError)
		return
	}

	// Stable order for clients and tests.
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		n := nodes[id]
		out = append(out, map[string]interface{}{"node_id": n.ID, "x": n.X, "y": n.Y})
	}
	s.writeJSON(w, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runs, err := s.db.Runs(50)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load runs: %v", err), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []db.RunSummary{}
	}
	s.writeJSON(w, runs)
}

func (s *Server) listEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

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
	s.writeJSON(w, ests)
}
