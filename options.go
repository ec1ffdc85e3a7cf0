package callengine

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Options holds engine tunables. Zero-valued fields fall back to the
// defaults applied by New.
type Options struct {
	// ICEServers is the STUN/TURN server list handed to the platform
	// peer-connection factory. Refreshed credentials come from the
	// external config provider that produced these entries.
	ICEServers []string

	// RelayURL is the websocket signaling relay endpoint. Unused when
	// the engine is built over an in-memory relay.
	RelayURL string

	// ReconnectDeadline bounds how long a session may stay in
	// Reconnecting before moving to Failed.
	ReconnectDeadline time.Duration

	// DeviceProbeInterval is the re-probe period for device-busy
	// recovery.
	DeviceProbeInterval time.Duration

	// LogLevel is a logrus level name ("debug", "info", "warn", ...).
	LogLevel string

	// LogFile enables rotating file output when non-empty.
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		ReconnectDeadline:   30 * time.Second,
		DeviceProbeInterval: 2 * time.Second,
		LogLevel:            "info",
		LogMaxSizeMB:        20,
		LogMaxBackups:       5,
		LogMaxAgeDays:       14,
	}
}

// LoadOptions reads an INI settings file and overlays it on the
// defaults. Missing keys keep their default values.
//
//	[media]
//	ice_servers = stun:stun.example.org:3478, turn:turn.example.org:3478
//
//	[signaling]
//	relay_url = wss://relay.example.org/ws
//
//	[recovery]
//	reconnect_deadline_seconds = 30
//	device_probe_interval_seconds = 2
//
//	[logging]
//	level = info
//	file = /var/log/callengine/engine.log
//	max_size_mb = 20
//	max_backups = 5
//	max_age_days = 14
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	cfg, err := ini.Load(path)
	if err != nil {
		return opts, fmt.Errorf("load settings %s: %w", path, err)
	}

	media := cfg.Section("media")
	if servers := media.Key("ice_servers").Strings(","); len(servers) > 0 {
		opts.ICEServers = servers
	}

	sig := cfg.Section("signaling")
	opts.RelayURL = sig.Key("relay_url").MustString(opts.RelayURL)

	rec := cfg.Section("recovery")
	opts.ReconnectDeadline = time.Duration(
		rec.Key("reconnect_deadline_seconds").MustInt(int(opts.ReconnectDeadline/time.Second))) * time.Second
	opts.DeviceProbeInterval = time.Duration(
		rec.Key("device_probe_interval_seconds").MustInt(int(opts.DeviceProbeInterval/time.Second))) * time.Second

	logging := cfg.Section("logging")
	opts.LogLevel = logging.Key("level").MustString(opts.LogLevel)
	opts.LogFile = logging.Key("file").MustString(opts.LogFile)
	opts.LogMaxSizeMB = logging.Key("max_size_mb").MustInt(opts.LogMaxSizeMB)
	opts.LogMaxBackups = logging.Key("max_backups").MustInt(opts.LogMaxBackups)
	opts.LogMaxAgeDays = logging.Key("max_age_days").MustInt(opts.LogMaxAgeDays)

	return opts, nil
}
