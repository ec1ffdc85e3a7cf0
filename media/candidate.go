package media

import "encoding/json"

// candidatePayload is the wire form of an ICE candidate inside a
// signaling message's opaque data blob.
type candidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

func (p candidatePayload) marshal() json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// ParseCandidate decodes a signaling data blob into a Candidate.
func ParseCandidate(raw json.RawMessage) (Candidate, error) {
	var p candidatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Candidate{}, err
	}
	return Candidate{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}, nil
}
