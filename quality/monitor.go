package quality

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SampleInterval is how often transport statistics are read while the
// call is connected.
const SampleInterval = 2 * time.Second

// Source reads the current transport statistics for the monitored
// call's media kind.
type Source func() (Sample, error)

// Monitor samples a Source on an interval and reports tier changes.
//
// The engine starts the monitor when a session enters Connected and
// stops it on every exit from Connected. Poll is exported so tests can
// drive sampling deterministically without the ticker, mirroring the
// iterate-style loops used elsewhere in the engine.
type Monitor struct {
	source Source
	onTier func(Tier, Sample)

	mu       sync.Mutex
	last     Sample
	lastTier Tier
	hasTier  bool
	stop     chan struct{}
	running  bool

	log *logrus.Entry
}

// NewMonitor creates a monitor for one call.
func NewMonitor(callID string, source Source, onTier func(Tier, Sample)) *Monitor {
	return &Monitor{
		source: source,
		onTier: onTier,
		log: logrus.WithFields(logrus.Fields{
			"component": "quality",
			"call_id":   callID,
		}),
	}
}

// Start begins interval sampling. Starting a running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Poll()
			}
		}
	}()
	m.log.Debug("Quality monitoring started")
}

// Stop halts interval sampling. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
	m.log.Debug("Quality monitoring stopped")
}

// Poll reads one sample and emits the tier if it changed. Safe to call
// directly in tests.
func (m *Monitor) Poll() {
	sample, err := m.source()
	if err != nil {
		// Stats read failures are expected around reconnects; the next
		// tick retries.
		m.log.WithField("error", err.Error()).Debug("Stats sample unavailable")
		return
	}
	tier := Classify(sample)

	m.mu.Lock()
	changed := !m.hasTier || tier != m.lastTier
	m.last = sample
	m.lastTier = tier
	m.hasTier = true
	onTier := m.onTier
	m.mu.Unlock()

	if changed {
		m.log.WithFields(logrus.Fields{
			"tier":        tier.String(),
			"packet_loss": sample.PacketLoss,
			"jitter":      sample.Jitter,
		}).Info("Connection quality changed")
		if onTier != nil {
			onTier(tier, sample)
		}
	}
}

// Last returns the most recent sample and tier.
func (m *Monitor) Last() (Sample, Tier, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastTier, m.hasTier
}
