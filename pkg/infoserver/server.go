// Package infoserver provides an HTTP server that exposes node information,
// health, and the current witnessing checkpoints.
package infoserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainswap/witness/pkg/checkpoint"
)

// CheckpointLister reads the full set of persisted checkpoints. Implemented by
// checkpoint.SQLiteStore and checkpoint.InMemoryStore.
type CheckpointLister interface {
	All(ctx context.Context) (map[string]checkpoint.WitnessedUntil, error)
}

// InfoResponse is the response format for the /info endpoint.
type InfoResponse struct {
	NodeID string   `json:"node_id"`
	Chains []string `json:"chains"`
}

// HealthResponse is the response format for the /health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Phase  string `json:"phase"`
}

// CheckpointEntry is one witnesser's checkpoint in the /checkpoints response.
type CheckpointEntry struct {
	Witnesser   string `json:"witnesser"`
	EpochIndex  uint32 `json:"epoch_index"`
	BlockNumber uint64 `json:"block_number"`
}

// Phase represents the current lifecycle phase of the node.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseReady      Phase = "ready"
	PhaseWitnessing Phase = "witnessing"
)

// Server is an HTTP server that exposes node information.
type Server struct {
	httpServer  *http.Server
	lggr        *zap.SugaredLogger
	info        InfoResponse
	checkpoints CheckpointLister

	mu    sync.RWMutex
	phase Phase
}

// New creates a new info server.
func New(addr string, nodeID string, chains []string, checkpoints CheckpointLister, lggr *zap.SugaredLogger) *Server {
	sorted := append([]string(nil), chains...)
	sort.Strings(sorted)

	s := &Server{
		info: InfoResponse{
			NodeID: nodeID,
			Chains: sorted,
		},
		checkpoints: checkpoints,
		phase:       PhaseReady,
		lggr:        lggr.With("component", "InfoServer"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/checkpoints", s.handleCheckpoints)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server. This is a blocking call.
func (s *Server) Start() error {
	s.lggr.Infow("starting info server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lggr.Infow("shutting down info server")
	return s.httpServer.Shutdown(ctx)
}

// SetPhase updates the current lifecycle phase.
func (s *Server) SetPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

// GetPhase returns the current lifecycle phase.
func (s *Server) GetPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.info); err != nil {
		s.lggr.Errorw("failed to encode info response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status: "ok",
		Phase:  string(s.GetPhase()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.lggr.Errorw("failed to encode health response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all, err := s.checkpoints.All(r.Context())
	if err != nil {
		s.lggr.Errorw("failed to read checkpoints", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	entries := make([]CheckpointEntry, 0, len(all))
	for name, v := range all {
		entries = append(entries, CheckpointEntry{
			Witnesser:   name,
			EpochIndex:  v.EpochIndex,
			BlockNumber: v.BlockNumber,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Witnesser < entries[j].Witnesser })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.lggr.Errorw("failed to encode checkpoints response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}
