// Package hypothesis implements LocalAgreement-N stabilization: the
// algorithm that turns a sequence of successive, overlapping ASR
// hypotheses into a monotonically-growing confirmed transcript plus a
// volatile tentative suffix.
package hypothesis

import (
	"strings"
)

// TimestampedWord is a single word as reported by an ASR backend. Immutable
// once created; Shift returns a new word rather than mutating in place.
// Equality is case-insensitive on Text; Start/End participate in overlap
// deduplication, not equality.
type TimestampedWord struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
}

// equalText reports whether two words match case-insensitively on text.
func (w TimestampedWord) equalText(other TimestampedWord) bool {
	return strings.EqualFold(w.Text, other.Text)
}

// Shift returns a copy of w with its timestamps offset by delta seconds.
func (w TimestampedWord) Shift(delta float64) TimestampedWord {
	w.Start += delta
	w.End += delta
	return w
}

// joinText space-joins the text of a word sequence.
func joinText(words []TimestampedWord) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}
