package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"wikistream/pkg/stats"
)

type StatusResponse struct {
	State string      `json:"state"`
	Stats stats.Stats `json:"stats"`
}

type Service struct {
	stats      stats.Recorder
	state      func() string
	tokenHash  []byte
	tokenCache sync.Map
	logger     *zap.Logger
}

// NewService exposes run progress. An empty tokenHash leaves /stats open.
func NewService(recorder stats.Recorder, state func() string, tokenHash string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		stats:  recorder,
		state:  state,
		logger: logger.Named("api"),
	}
	if tokenHash != "" {
		s.tokenHash = []byte(tokenHash)
	}
	return s
}

func (s *Service) Healthcheck(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Service active"))
}

func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Stats: s.stats.Snapshot()}
	if s.state != nil {
		resp.State = s.state()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("writing stats response", zap.Error(err))
	}
}
