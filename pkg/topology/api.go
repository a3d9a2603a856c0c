package topology

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// WatchStatus keeps the outcome of the latest watch pass for the HTTP API.
// Pass Observe as WatchOpts.OnPass.
type WatchStatus struct {
	mu     sync.RWMutex
	last   PassResult
	at     time.Time
	passes int
}

// Observe records a finished pass.
func (s *WatchStatus) Observe(r PassResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
	s.at = time.Now().UTC()
	s.passes++
}

type watchStatusResponse struct {
	Passes   int       `json:"passes"`
	LastPass time.Time `json:"lastPass"`
	VLANs    []int     `json:"vlans"`
	Drifted  []string  `json:"drifted,omitempty"`
	Removed  []int     `json:"removed,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func (s *WatchStatus) snapshot() (watchStatusResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := watchStatusResponse{
		Passes:   s.passes,
		LastPass: s.at,
		VLANs:    []int{},
		Drifted:  s.last.Drifted,
	}
	for _, id := range s.last.Set.IDs() {
		out.VLANs = append(out.VLANs, int(id))
	}
	for _, id := range s.last.Removed {
		out.Removed = append(out.Removed, int(id))
	}
	if s.last.Err != nil {
		out.Error = s.last.Err.Error()
	}
	return out, s.passes > 0 && s.last.Err == nil
}

// RegisterRoutes adds the watch endpoints to mux.
//
//	GET /api/v1/status  — latest pass: VLANs, drift, removed VLANs, error
//	GET /healthz        — 200 once a pass has converged, 503 otherwise
func (s *WatchStatus) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

func (s *WatchStatus) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out, _ := s.snapshot()
	writeJSON(w, http.StatusOK, out)
}

func (s *WatchStatus) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out, healthy := s.snapshot()
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"healthy": healthy, "passes": out.Passes, "error": out.Error})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
