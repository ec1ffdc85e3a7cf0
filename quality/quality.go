// Package quality classifies connection quality from transport
// statistics sampled on an interval while a call is connected.
//
// Classification is display-only: quality degradation alone never
// forces a lifecycle transition; only actual transport failure does.
package quality

import (
	"fmt"
	"time"
)

// Tier is the classified connection quality level.
type Tier int

const (
	// TierExcellent indicates negligible loss and jitter.
	TierExcellent Tier = iota
	// TierGood indicates noticeable but acceptable degradation.
	TierGood
	// TierPoor indicates significant loss or jitter.
	TierPoor
)

// String returns the string representation of Tier.
func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	case TierPoor:
		return "poor"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Sample is one transport statistics reading. PacketLoss is a 0.0-1.0
// fraction. Only the most recent sample and its derived tier are
// retained by the monitor.
type Sample struct {
	PacketLoss float64
	Jitter     time.Duration
	Timestamp  time.Time
}

// Classification thresholds, checked in order with first match winning.
// The same thresholds apply uniformly to voice and video calls.
const (
	poorLoss   = 0.05
	poorJitter = 30 * time.Millisecond
	goodLoss   = 0.02
	goodJitter = 15 * time.Millisecond
)

// Classify derives the quality tier for a sample.
func Classify(s Sample) Tier {
	switch {
	case s.PacketLoss > poorLoss || s.Jitter > poorJitter:
		return TierPoor
	case s.PacketLoss > goodLoss || s.Jitter > goodJitter:
		return TierGood
	default:
		return TierExcellent
	}
}
