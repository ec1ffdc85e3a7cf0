// Package audioroute enumerates audio output endpoints, classifies them
// by label heuristics, and selects the active route for a call.
//
// The device list is read-only shared state refreshed on device-change
// events; no other engine component mutates the active route. Switching
// a route rebinds the audio sink without interrupting the media stream.
package audioroute

import (
	"fmt"
	"strings"
)

// Route classifies an audio output endpoint.
type Route int

const (
	// RouteEarpiece is the default handset receiver.
	RouteEarpiece Route = iota
	// RouteSpeaker is the loudspeaker.
	RouteSpeaker
	// RouteBluetooth is any Bluetooth audio device.
	RouteBluetooth
	// RouteHeadphones is a wired headset or headphones.
	RouteHeadphones
	// RouteCarAudio is a car head unit.
	RouteCarAudio
)

// String returns the string representation of Route.
func (r Route) String() string {
	switch r {
	case RouteEarpiece:
		return "Earpiece"
	case RouteSpeaker:
		return "Speaker"
	case RouteBluetooth:
		return "Bluetooth"
	case RouteHeadphones:
		return "Headphones"
	case RouteCarAudio:
		return "CarAudio"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Device is one enumerated audio output endpoint. The engine references
// platform devices but does not own them.
type Device struct {
	ID    string
	Label string
	Route Route
}

// ClassifyLabel maps a platform device label onto a route using
// substring heuristics. Labels are free-form, so classification errs
// toward the safe default of Earpiece.
func ClassifyLabel(label string) Route {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "carplay"),
		strings.Contains(l, "android auto"),
		strings.Contains(l, "car"):
		return RouteCarAudio
	case strings.Contains(l, "bluetooth"),
		strings.Contains(l, "airpods"),
		strings.Contains(l, "bt "):
		return RouteBluetooth
	case strings.Contains(l, "headphone"),
		strings.Contains(l, "headset"),
		strings.Contains(l, "wired"):
		return RouteHeadphones
	case strings.Contains(l, "speaker"):
		return RouteSpeaker
	default:
		return RouteEarpiece
	}
}
