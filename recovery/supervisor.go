package recovery

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Default recovery timings.
const (
	// DefaultReconnectDeadline bounds how long a session may sit in
	// Reconnecting before it fails.
	DefaultReconnectDeadline = 30 * time.Second
	// DefaultProbeInterval is the device-busy re-probe period.
	DefaultProbeInterval = 2 * time.Second
)

// Config tunes the supervisor's timers. Zero values take the defaults.
type Config struct {
	ReconnectDeadline time.Duration
	ProbeInterval     time.Duration
}

// Supervisor owns the recovery timers for one call: the bounded
// reconnect deadline and the device-busy re-probe loop. Classification
// itself is the package-level Classify; the supervisor only schedules.
type Supervisor struct {
	cfg Config

	mu            sync.Mutex
	deadlineTimer *time.Timer
	probeStop     chan struct{}
	stopped       bool

	log *logrus.Entry
}

// NewSupervisor creates a supervisor for one call.
func NewSupervisor(callID string, cfg Config) *Supervisor {
	if cfg.ReconnectDeadline <= 0 {
		cfg.ReconnectDeadline = DefaultReconnectDeadline
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	return &Supervisor{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{
			"component": "recovery",
			"call_id":   callID,
		}),
	}
}

// ArmReconnectDeadline starts (or restarts) the reconnect budget.
// onExpire fires once if the deadline passes without DisarmReconnect.
func (s *Supervisor) ArmReconnectDeadline(onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
	}
	s.deadlineTimer = time.AfterFunc(s.cfg.ReconnectDeadline, onExpire)
	s.log.WithField("deadline", s.cfg.ReconnectDeadline.String()).Debug("Reconnect deadline armed")
}

// DisarmReconnect cancels the reconnect deadline after a successful
// recovery.
func (s *Supervisor) DisarmReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
		s.deadlineTimer = nil
	}
}

// StartDeviceProbe re-runs probe on the probe interval until it
// succeeds, then calls onRecovered once. Device-busy recovery never
// increments a retry counter: the loop runs until success, teardown, or
// Stop.
func (s *Supervisor) StartDeviceProbe(probe func() bool, onRecovered func()) {
	s.mu.Lock()
	if s.stopped || s.probeStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.probeStop = stop
	interval := s.cfg.ProbeInterval
	s.mu.Unlock()

	s.log.WithField("interval", interval.String()).Debug("Device re-probe loop started")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !probe() {
					continue
				}
				s.StopDeviceProbe()
				s.log.Info("Device available again")
				onRecovered()
				return
			}
		}
	}()
}

// StopDeviceProbe halts the re-probe loop.
func (s *Supervisor) StopDeviceProbe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probeStop != nil {
		close(s.probeStop)
		s.probeStop = nil
	}
}

// Stop cancels every timer. The supervisor cannot be reused.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
		s.deadlineTimer = nil
	}
	if s.probeStop != nil {
		close(s.probeStop)
		s.probeStop = nil
	}
}
