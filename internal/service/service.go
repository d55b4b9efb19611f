// Package service assembles the record views and runs their background processes.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"recordscope/internal/interfaces"
	"recordscope/internal/metrics"
	"recordscope/internal/types"
)

const (
	// DefaultStatusInterval is how often the Query Service health is probed
	DefaultStatusInterval = 15 * time.Second
	// DefaultProbeTimeout bounds a single health probe
	DefaultProbeTimeout = 5 * time.Second
)

// Config tunes the view service
type Config struct {
	View           ViewConfig
	StatusInterval time.Duration
	ProbeTimeout   time.Duration
}

// Stats describes the running service
type Stats struct {
	IsRunning  bool                           `json:"is_running"`
	StartedAt  time.Time                      `json:"started_at,omitempty"`
	Views      map[types.RecordKind]ViewStats `json:"views"`
	Connection metrics.Status                 `json:"connection"`
}

// ViewStats summarizes one view
type ViewStats struct {
	Displayed    int    `json:"displayed"`
	TotalRecords int    `json:"total_records"`
	Page         int    `json:"page"`
	Limit        int    `json:"limit"`
	LastError    string `json:"last_error,omitempty"`
}

// ViewService owns one RecordView per record kind and the connection monitor
type ViewService struct {
	views   map[types.RecordKind]*RecordView
	monitor *metrics.ConnectionMonitor

	statusInterval time.Duration

	// Service lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	startedAt  time.Time
	runningMux sync.RWMutex
}

// NewViewService creates views for every known schema over the same Query Service and state store
func NewViewService(client interfaces.QueryService, backend interfaces.StateStore, cfg Config) *ViewService {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	views := make(map[types.RecordKind]*RecordView)
	for _, schema := range types.Schemas() {
		views[schema.Kind] = NewRecordView(schema, client, backend, cfg.View)
	}

	return &ViewService{
		views:          views,
		monitor:        metrics.NewConnectionMonitor(client, cfg.ProbeTimeout),
		statusInterval: cfg.StatusInterval,
	}
}

// View returns the view of kind
func (s *ViewService) View(kind types.RecordKind) (*RecordView, error) {
	view, ok := s.views[kind]
	if !ok {
		return nil, types.NewValidationError("kind", "unknown record kind %q", kind)
	}
	return view, nil
}

// Start launches the connection monitor
func (s *ViewService) Start() error {
	s.runningMux.Lock()
	defer s.runningMux.Unlock()

	if s.isRunning {
		return fmt.Errorf("service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.StartMonitoring(s.ctx, s.statusInterval)
	}()

	s.isRunning = true
	s.startedAt = time.Now()
	log.Info().Dur("status_interval", s.statusInterval).Msg("view service started")
	return nil
}

// Stop stops the background processes and waits for them to exit
func (s *ViewService) Stop() error {
	s.runningMux.Lock()
	defer s.runningMux.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	s.isRunning = false
	log.Info().Msg("view service stopped")
	return nil
}

// ActivateAll activates every view; failures are logged and the first one returned
func (s *ViewService) ActivateAll(ctx context.Context) error {
	var first error
	for _, schema := range types.Schemas() {
		if err := s.views[schema.Kind].Activate(ctx); err != nil {
			log.Warn().Err(err).Str("kind", string(schema.Kind)).Msg("view activation failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Status returns the connection indicator
func (s *ViewService) Status() metrics.Status {
	return s.monitor.Status()
}

// CheckConnection probes the Query Service now
func (s *ViewService) CheckConnection(ctx context.Context) metrics.Status {
	return s.monitor.Check(ctx)
}

// GetStats returns service statistics
func (s *ViewService) GetStats() Stats {
	s.runningMux.RLock()
	stats := Stats{
		IsRunning:  s.isRunning,
		StartedAt:  s.startedAt,
		Views:      make(map[types.RecordKind]ViewStats, len(s.views)),
		Connection: s.monitor.Status(),
	}
	s.runningMux.RUnlock()

	for kind, view := range s.views {
		snap := view.Snapshot()
		stats.Views[kind] = ViewStats{
			Displayed:    len(snap.Records),
			TotalRecords: snap.Pagination.TotalRecords,
			Page:         snap.Pagination.Page,
			Limit:        snap.Pagination.Limit,
			LastError:    snap.Error,
		}
	}
	return stats
}
