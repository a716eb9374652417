package subs

// Kind names a source type ("feed", "live", "rss", ...). The store treats
// it as an opaque namespace for subscriptions and baselines; the engine
// registers the known kinds.
type Kind string

// Baseline is the per-entity watermark. Exactly one shape is populated:
//
//   - Seq: sequence baseline, the ID of the most-recent feed item observed
//   - Active: status baseline, the previously observed broadcast state
//
// A zero Baseline means "absent".
type Baseline struct {
	Seq    string `json:"seq,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

func (b Baseline) IsZero() bool { return b.Seq == "" && b.Active == nil }

// StatusBaseline builds a status-shaped baseline.
func StatusBaseline(active bool) Baseline { return Baseline{Active: &active} }

// SeqBaseline builds a sequence-shaped baseline.
func SeqBaseline(id string) Baseline { return Baseline{Seq: id} }
