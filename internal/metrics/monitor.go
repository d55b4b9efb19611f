package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Pinger is anything whose reachability can be probed
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the connection indicator shown next to the record views
type Status struct {
	Connected    bool      `json:"connected"`
	LastLatency  float64   `json:"last_latency_ms"`
	LatencyP95   float64   `json:"latency_p95_ms"`
	LatencyP99   float64   `json:"latency_p99_ms"`
	LastError    string    `json:"last_error,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
	Samples      int       `json:"samples"`
	FailedChecks int64     `json:"failed_checks"`
}

// ConnectionMonitor polls the Query Service health endpoint.
// It drives only the connection indicator and never touches record data.
type ConnectionMonitor struct {
	pinger  Pinger
	timeout time.Duration

	// Recent latencies
	latencies  []time.Duration
	maxSamples int

	status Status
	mutex  sync.RWMutex
}

// NewConnectionMonitor creates a monitor; timeout bounds each probe
func NewConnectionMonitor(pinger Pinger, timeout time.Duration) *ConnectionMonitor {
	return &ConnectionMonitor{
		pinger:     pinger,
		timeout:    timeout,
		latencies:  make([]time.Duration, 0, 100),
		maxSamples: 100,
	}
}

// StartMonitoring probes immediately and then on every interval until ctx is done
func (cm *ConnectionMonitor) StartMonitoring(ctx context.Context, interval time.Duration) {
	cm.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.Check(ctx)
		}
	}
}

// Check runs one probe and updates the indicator
func (cm *ConnectionMonitor) Check(ctx context.Context) Status {
	probeCtx := ctx
	if cm.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, cm.timeout)
		defer cancel()
	}

	started := time.Now()
	err := cm.pinger.Ping(probeCtx)
	latency := time.Since(started)
	Get().RecordPing(latency, err)

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	wasConnected := cm.status.Connected
	cm.status.CheckedAt = time.Now()
	cm.status.LastLatency = milliseconds(latency)

	if err != nil {
		cm.status.Connected = false
		cm.status.LastError = err.Error()
		cm.status.FailedChecks++
		if wasConnected || cm.status.FailedChecks == 1 {
			log.Warn().Err(err).Msg("query service unreachable")
		}
		return cm.status
	}

	cm.status.Connected = true
	cm.status.LastError = ""
	if !wasConnected {
		log.Info().Dur("latency", latency).Msg("query service reachable")
	}

	cm.latencies = append(cm.latencies, latency)
	// Keep only the most recent samples
	if len(cm.latencies) > cm.maxSamples {
		cm.latencies = cm.latencies[1:]
	}

	p95, p99 := calculatePercentiles(cm.latencies)
	Get().UpdatePingPercentiles(p95, p99)
	cm.status.LatencyP95 = milliseconds(p95)
	cm.status.LatencyP99 = milliseconds(p99)
	cm.status.Samples = len(cm.latencies)
	return cm.status
}

// Status returns the latest indicator
func (cm *ConnectionMonitor) Status() Status {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.status
}

// calculatePercentiles calculates the 95th and 99th percentiles
func calculatePercentiles(latencies []time.Duration) (time.Duration, time.Duration) {
	if len(latencies) == 0 {
		return 0, 0
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p95Index := int(float64(len(sorted)) * 0.95)
	p99Index := int(float64(len(sorted)) * 0.99)

	if p95Index >= len(sorted) {
		p95Index = len(sorted) - 1
	}
	if p99Index >= len(sorted) {
		p99Index = len(sorted) - 1
	}

	return sorted[p95Index], sorted[p99Index]
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
