package es

// Compressor reduces a batch of envelopes before it is appended.
//
// Envelopes marked Collapsible (payloads implementing StateChange but not
// Milestone) are collapsed to the last envelope per event type. All other
// envelopes are kept in their original order and precede the collapsed
// ones. Compression is lossy for collapsible types: tagging an event
// StateChange declares that intermediate values of that type may be
// forgotten.
type Compressor struct {
	threshold int
}

// NewCompressor returns a compressor that kicks in once a batch holds more
// than threshold envelopes. A threshold <= 0 disables compression.
func NewCompressor(threshold int) *Compressor {
	return &Compressor{threshold: threshold}
}

func (c *Compressor) Threshold() int { return c.threshold }

func (c *Compressor) ShouldCompress(events []Envelope) bool {
	if c == nil || c.threshold <= 0 {
		return false
	}
	return len(events) > c.threshold
}

// Compress returns the compressed batch. Versions are left untouched; the
// store renumbers the result.
func (c *Compressor) Compress(events []Envelope) []Envelope {
	if len(events) == 0 {
		return events
	}

	// index of the last occurrence per collapsible type
	last := make(map[string]int)
	for i, e := range events {
		if e.Collapsible {
			last[e.Type] = i
		}
	}
	if len(last) == 0 {
		out := make([]Envelope, len(events))
		copy(out, events)
		return out
	}

	kept := make([]Envelope, 0, len(events))
	collapsed := make([]Envelope, 0, len(last))
	for i, e := range events {
		if !e.Collapsible {
			kept = append(kept, e)
			continue
		}
		if last[e.Type] == i {
			collapsed = append(collapsed, e)
		}
	}
	return append(kept, collapsed...)
}
