package audioroute

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Enumerator is the injected platform surface for audio outputs.
type Enumerator interface {
	// Outputs lists the current audio output devices.
	Outputs() ([]Device, error)

	// SetActive rebinds the audio sink to the given device. Failure
	// must leave the previous binding intact.
	SetActive(deviceID string) error
}

// autoPriority orders routes for automatic selection on refresh.
var autoPriority = []Route{RouteCarAudio, RouteBluetooth, RouteHeadphones}

// cycleOrder is the stable order manual cycling walks through.
var cycleOrder = []Route{RouteEarpiece, RouteSpeaker, RouteBluetooth, RouteHeadphones, RouteCarAudio}

// Manager selects and persists the active audio route for a call.
type Manager struct {
	enum Enumerator

	mu       sync.Mutex
	devices  []Device
	active   Route
	previous Route
	activeID string

	log *logrus.Entry
}

// NewManager creates a route manager over the platform enumerator.
func NewManager(enum Enumerator) *Manager {
	return &Manager{
		enum:     enum,
		active:   RouteEarpiece,
		previous: RouteEarpiece,
		log:      logrus.WithField("component", "audioroute"),
	}
}

// Refresh re-enumerates devices and auto-selects a route by priority:
// CarAudio > Bluetooth > Headphones > the existing selection > Earpiece.
// Called on call start and on every platform device-change event. A
// refresh never clobbers a manual choice that is still available.
func (m *Manager) Refresh() error {
	devices, err := m.enum.Outputs()
	if err != nil {
		return fmt.Errorf("enumerate audio outputs: %w", err)
	}

	for i := range devices {
		if devices[i].Route == 0 && devices[i].Label != "" {
			devices[i].Route = ClassifyLabel(devices[i].Label)
		}
	}

	m.mu.Lock()
	m.devices = devices
	target := m.pickAuto()
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"devices": len(devices),
		"target":  target.String(),
	}).Debug("Audio outputs refreshed")

	return m.bind(target)
}

// pickAuto chooses the auto-selection target. The current selection
// wins over the one before it, so only a detach of the active device
// falls back. Caller holds the lock.
func (m *Manager) pickAuto() Route {
	for _, r := range autoPriority {
		if m.hasRoute(r) {
			return r
		}
	}
	if m.hasRoute(m.active) {
		return m.active
	}
	if m.hasRoute(m.previous) {
		return m.previous
	}
	return RouteEarpiece
}

// hasRoute reports whether any enumerated device matches the route.
// Caller holds the lock.
func (m *Manager) hasRoute(r Route) bool {
	for _, d := range m.devices {
		if d.Route == r {
			return true
		}
	}
	// Earpiece and Speaker are built in even when the platform only
	// reports external devices.
	return r == RouteEarpiece || r == RouteSpeaker
}

// Cycle advances through the routes currently available, skipping
// absent categories and wrapping around. A rebind failure keeps the
// previous route active and is reported as a non-fatal warning.
func (m *Manager) Cycle() (Route, error) {
	m.mu.Lock()
	available := m.availableRoutes()
	current := m.active
	m.mu.Unlock()

	if len(available) < 2 {
		return current, nil
	}

	idx := 0
	for i, r := range available {
		if r == current {
			idx = i
			break
		}
	}
	next := available[(idx+1)%len(available)]
	if err := m.bind(next); err != nil {
		return current, err
	}
	return next, nil
}

// availableRoutes lists present routes in cycle order. Caller holds the
// lock.
func (m *Manager) availableRoutes() []Route {
	present := map[Route]bool{RouteEarpiece: true, RouteSpeaker: true}
	for _, d := range m.devices {
		present[d.Route] = true
	}
	routes := make([]Route, 0, len(present))
	for _, r := range cycleOrder {
		if present[r] {
			routes = append(routes, r)
		}
	}
	return routes
}

// Active returns the currently bound route.
func (m *Manager) Active() Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// bind rebinds the audio sink to the first device of the target route.
// Rebind never interrupts the media stream; on failure the previous
// route stays active.
func (m *Manager) bind(target Route) error {
	m.mu.Lock()
	if m.active == target {
		m.mu.Unlock()
		return nil
	}
	deviceID := ""
	for _, d := range m.devices {
		if d.Route == target {
			deviceID = d.ID
			break
		}
	}
	m.mu.Unlock()

	if deviceID != "" {
		if err := m.enum.SetActive(deviceID); err != nil {
			m.log.WithFields(logrus.Fields{
				"target": target.String(),
				"error":  err.Error(),
			}).Warn("Audio route rebind failed, keeping previous route")
			return fmt.Errorf("rebind audio route to %s: %w", target.String(), err)
		}
	}

	m.mu.Lock()
	m.previous = m.active
	m.active = target
	m.activeID = deviceID
	m.mu.Unlock()

	m.log.WithField("route", target.String()).Info("Audio route selected")
	return nil
}
