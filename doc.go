// Package callengine implements a real-time call session engine for
// one-to-one voice and video calls negotiated over an out-of-band
// signaling relay.
//
// The Engine owns every live call session. Each session is driven by a
// single goroutine consuming an ordered event queue; all state changes
// go through the pure transition function in the call package, and the
// resulting side effects (media, timers, signaling, persistence) are
// executed by the per-call effect runner. UI-facing reads only ever see
// immutable session snapshots.
//
// Platform capabilities (media capture, peer connections, audio output
// enumeration, permission probing) are injected interfaces, so the
// engine itself never touches a device. The pionrtc and wsrelay
// subpackages provide production implementations; the in-memory relay
// in signaling supports loopback testing without a network.
//
// # Getting Started
//
// Build an engine over a transport and a platform, register listeners,
// and start it:
//
//	relay := signaling.NewMemoryRelay()
//	eng, err := callengine.New(callengine.Config{
//	    LocalParticipantID: "alice",
//	    Transport:          relay.Bind("alice"),
//	    Platform:           pionrtc.New(opts.ICEServers),
//	    Options:            opts,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng.OnStateChange(func(s call.Session) {
//	    fmt.Printf("call %s: %s\n", s.ID, s.State)
//	})
//	eng.Start()
//	defer eng.Stop()
//
//	callID, err := eng.Dial(ctx, "bob", call.KindVoice)
package callengine
