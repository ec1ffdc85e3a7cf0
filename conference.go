package callengine

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callengine/call"
)

// conferenceState tracks a merged conference: the primary leg carries
// the merged session the UI observes, the secondary leg keeps its media
// alive underneath.
type conferenceState struct {
	primaryID   string
	secondaryID string
}

// Swap exchanges the foreground and background calls: the foreground
// call goes on hold and the held call resumes. Exactly one call has
// live media at any moment.
func (e *Engine) Swap() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if e.conf != nil {
		e.mu.Unlock()
		return ErrCallNotActive
	}
	if len(e.calls) != maxConcurrentCalls {
		e.mu.Unlock()
		return ErrCallNotFound
	}
	var fg, bg *callRuntime
	for id, rt := range e.calls {
		if id == e.foregroundID {
			fg = rt
		} else {
			bg = rt
		}
	}
	if fg == nil || bg == nil {
		e.mu.Unlock()
		return ErrCallNotFound
	}
	e.foregroundID = bg.id
	e.mu.Unlock()

	if fg.snapshot().State == call.StateConnected {
		fg.deliver(call.EventHold{})
	}
	if bg.snapshot().State == call.StateOnHold {
		bg.deliver(call.EventResume{})
	}

	e.log.WithField("foreground", bg.id).Info("Calls swapped")
	return nil
}

// Merge combines the two live calls into a conference and returns the
// remote participant set. From then on the primary leg is the one
// session the UI observes; the secondary leg keeps its media alive as
// bookkeeping underneath. The merge is atomic: if either leg drops
// inside the merge window, nothing is committed and both sessions keep
// their pre-merge state.
func (e *Engine) Merge() ([]call.ConferenceParticipant, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrEngineClosed
	}
	if e.conf != nil || len(e.calls) != maxConcurrentCalls {
		e.mu.RUnlock()
		return nil, ErrMergeUnavailable
	}
	var fg, bg *callRuntime
	for id, rt := range e.calls {
		if id == e.foregroundID {
			fg = rt
		} else {
			bg = rt
		}
	}
	hook := e.mergeHook
	e.mu.RUnlock()

	if fg == nil || bg == nil {
		return nil, ErrMergeUnavailable
	}

	sFg, sBg := fg.snapshot(), bg.snapshot()
	if !mergeable(sFg) || !mergeable(sBg) {
		return nil, ErrMergeUnavailable
	}

	if hook != nil {
		hook()
	}

	// Commit only if both legs survived the merge window.
	if !mergeable(fg.snapshot()) || !mergeable(bg.snapshot()) {
		e.log.Warn("Merge aborted, a call leg dropped mid-merge")
		return nil, ErrMergeLegLost
	}

	participants := []call.ConferenceParticipant{
		{ID: sFg.RemoteParticipant, DisplayName: sFg.RemoteParticipant},
		{ID: sBg.RemoteParticipant, DisplayName: sBg.RemoteParticipant},
	}

	e.mu.Lock()
	e.conf = &conferenceState{primaryID: fg.id, secondaryID: bg.id}
	e.foregroundID = fg.id
	e.mu.Unlock()

	// Both legs need live media in a conference.
	if sBg.State == call.StateOnHold {
		bg.deliver(call.EventResume{})
	}
	if sFg.State == call.StateOnHold {
		fg.deliver(call.EventResume{})
	}
	fg.deliver(call.EventMerged{Participants: participants})

	e.log.WithFields(logrus.Fields{
		"primary":   fg.id,
		"secondary": bg.id,
	}).Info("Calls merged into conference")
	return participants, nil
}

// mergeable reports whether a leg can join a conference.
func mergeable(s call.Session) bool {
	return s.State == call.StateConnected || s.State == call.StateOnHold
}

// handleConferenceLegEnded repairs conference state after a leg ends.
// Losing the primary leg collapses the conference; losing the secondary
// dissolves it back into a plain two-party call.
func (e *Engine) handleConferenceLegEnded(endedID string) {
	e.mu.Lock()
	conf := e.conf
	if conf == nil || (endedID != conf.primaryID && endedID != conf.secondaryID) {
		e.mu.Unlock()
		return
	}
	e.conf = nil
	otherID := conf.primaryID
	if endedID == conf.primaryID {
		otherID = conf.secondaryID
	}
	other := e.calls[otherID]
	e.mu.Unlock()

	if other == nil {
		return
	}

	if endedID == conf.primaryID {
		// The anchor leg carried the merged session; without it the
		// conference is over.
		other.deliver(call.EventEndRequested{})
		return
	}

	other.deliver(call.EventMerged{Participants: nil})
}
