package conversation

// View is a lazy, ordered, read-only projection over a Log honoring at most
// one active Condensation. It is the exact sequence used to assemble the LLM
// message list (§4.2).
type View struct {
	events []Event
	// Summary, when non-empty, is the synthetic message spliced in at
	// SummaryOffset by the most recent Condensation.
	Summary       string
	SummaryOffset int
}

// BuildView scans log from offset 0 through uptoOffset (exclusive of
// uptoOffset, i.e. [0, uptoOffset)) and applies the most recent Condensation
// found in that range: events listed in its ForgottenEventIDs are dropped
// and its Summary is recorded for splicing at SummaryOffset.
func BuildView(log *Log, uptoOffset int) View {
	all := log.Iter(0, uptoOffset)

	var active *Condensation
	for _, e := range all {
		if c, ok := e.(*Condensation); ok {
			active = c
		}
	}

	if active == nil {
		return View{events: all}
	}

	forgotten := make(map[string]bool, len(active.ForgottenEventIDs))
	for _, id := range active.ForgottenEventIDs {
		forgotten[id] = true
	}

	kept := make([]Event, 0, len(all))
	for _, e := range all {
		if forgotten[e.EventID()] {
			continue
		}
		kept = append(kept, e)
	}

	return View{events: kept, Summary: active.Summary, SummaryOffset: active.SummaryOffset}
}

// Events returns the view's event sequence with the summary (if any)
// spliced in at SummaryOffset as a synthetic Message. The returned slice's
// non-summary elements are an order-preserving subsequence of the
// underlying log, satisfying the View invariant in §8.4.
func (v View) Events() []Event {
	if v.Summary == "" {
		return v.events
	}
	offset := v.SummaryOffset
	if offset < 0 {
		offset = 0
	}
	if offset > len(v.events) {
		offset = len(v.events)
	}
	summaryMsg := &Message{
		Base:    Base{ID: "condensation-summary", From: SourceEnvironment},
		Role:    "assistant",
		Content: []ContentPart{{Type: "text", Text: v.Summary}},
	}
	out := make([]Event, 0, len(v.events)+1)
	out = append(out, v.events[:offset]...)
	out = append(out, summaryMsg)
	out = append(out, v.events[offset:]...)
	return out
}

// Len returns the number of non-summary events in the view.
func (v View) Len() int { return len(v.events) }
