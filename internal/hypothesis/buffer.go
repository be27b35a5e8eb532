package hypothesis

import "sync"

const (
	defaultAgreementN        = 2
	defaultMaxConfirmedWords = 500
)

// Config configures a Buffer. Zero values fall back to the documented
// defaults (AgreementN=2, MaxConfirmedWords=500).
type Config struct {
	AgreementN        int
	MaxConfirmedWords int
}

// Buffer implements LocalAgreement-N stabilization. It accepts successive
// word-timed hypotheses via Insert, and Flush compares the tail of history
// against the newest hypothesis to decide which leading words have now
// stabilized (the same text, in the same position, across the last
// AgreementN inserts) and can be committed to Confirmed.
//
// Not safe for concurrent use from multiple goroutines without external
// synchronization beyond what Buffer itself provides; in practice exactly
// one Session goroutine drives a Buffer.
type Buffer struct {
	mu sync.Mutex

	agreementN        int
	maxConfirmedWords int

	confirmed         []TimestampedWord // full confirmed history, FIFO-bounded
	confirmedInBuffer []TimestampedWord // display/prompt-suffix window, trimmed independently by TrimToTime
	currentHypothesis []TimestampedWord
	previousHypotheses [][]TimestampedWord // bounded to agreementN-1 entries
}

// New creates an empty Buffer.
func New(cfg Config) *Buffer {
	n := cfg.AgreementN
	if n < 1 {
		n = defaultAgreementN
	}
	max := cfg.MaxConfirmedWords
	if max <= 0 {
		max = defaultMaxConfirmedWords
	}
	return &Buffer{agreementN: n, maxConfirmedWords: max}
}

// AgreementN returns the configured N.
func (b *Buffer) AgreementN() int { return b.agreementN }

// Insert shifts each word's timestamps by offsetSeconds, drops any leading
// words whose time range has already been covered by the last confirmed
// word (ties drop the new word), and stores the result as the current
// hypothesis, replacing whatever was there before.
func (b *Buffer) Insert(words []TimestampedWord, offsetSeconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	shifted := make([]TimestampedWord, len(words))
	for i, w := range words {
		shifted[i] = w.Shift(offsetSeconds)
	}

	var lastConfirmedEnd float64
	if n := len(b.confirmed); n > 0 {
		lastConfirmedEnd = b.confirmed[n-1].End
	}

	cut := 0
	for cut < len(shifted) && shifted[cut].End <= lastConfirmedEnd {
		cut++
	}
	b.currentHypothesis = shifted[cut:]
}

// Flush compares the current hypothesis against the tail of history and
// returns the words that have just stabilized (the longest common prefix,
// case-insensitive by text, across the last AgreementN hypotheses). Those
// words are appended to Confirmed and removed from the current hypothesis;
// the (possibly now-shorter) current hypothesis becomes the newest entry of
// history. If the current hypothesis is empty, Flush returns nil and
// history is left untouched.
func (b *Buffer) Flush() []TimestampedWord {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.currentHypothesis) == 0 {
		return nil
	}

	sequences := make([][]TimestampedWord, 0, b.agreementN)
	start := len(b.previousHypotheses) - (b.agreementN - 1)
	if start < 0 {
		start = 0
	}
	sequences = append(sequences, b.previousHypotheses[start:]...)
	sequences = append(sequences, b.currentHypothesis)

	var newlyConfirmed []TimestampedWord
	if len(sequences) >= b.agreementN {
		prefixLen := longestCommonPrefix(sequences)
		if prefixLen > 0 {
			newlyConfirmed = append(newlyConfirmed, b.currentHypothesis[:prefixLen]...)
			b.currentHypothesis = b.currentHypothesis[prefixLen:]
		}
	}

	if len(newlyConfirmed) > 0 {
		b.confirmed = append(b.confirmed, newlyConfirmed...)
		b.confirmedInBuffer = append(b.confirmedInBuffer, newlyConfirmed...)
		if over := len(b.confirmed) - b.maxConfirmedWords; over > 0 {
			b.confirmed = b.confirmed[over:]
		}
	}

	b.previousHypotheses = append(b.previousHypotheses, b.currentHypothesis)
	if over := len(b.previousHypotheses) - (b.agreementN - 1); over > 0 && b.agreementN > 1 {
		b.previousHypotheses = b.previousHypotheses[over:]
	} else if b.agreementN <= 1 {
		b.previousHypotheses = nil
	}

	return newlyConfirmed
}

// longestCommonPrefix finds the length of the longest prefix shared by every
// sequence, comparing text case-insensitively position by position.
func longestCommonPrefix(sequences [][]TimestampedWord) int {
	minLen := -1
	for _, s := range sequences {
		if minLen == -1 || len(s) < minLen {
			minLen = len(s)
		}
	}
	if minLen <= 0 {
		return 0
	}
	for pos := range minLen {
		ref := sequences[0][pos]
		for _, s := range sequences[1:] {
			if !ref.equalText(s[pos]) {
				return pos
			}
		}
	}
	return minLen
}

// GetConfirmedText returns the space-joined text of the confirmed history:
// at most MaxConfirmedWords words, since older ones are evicted FIFO.
func (b *Buffer) GetConfirmedText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return joinText(b.confirmed)
}

// GetTentativeText returns the space-joined text of the current (not yet
// confirmed) hypothesis.
func (b *Buffer) GetTentativeText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return joinText(b.currentHypothesis)
}

// ConfirmedWordCount returns len(Confirmed).
func (b *Buffer) ConfirmedWordCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.confirmed)
}

// TentativeWordCount returns len(current hypothesis).
func (b *Buffer) TentativeWordCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.currentHypothesis)
}

// ConfirmedWords returns a copy of the confirmed history (at most
// MaxConfirmedWords words; older ones are evicted FIFO).
func (b *Buffer) ConfirmedWords() []TimestampedWord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TimestampedWord, len(b.confirmed))
	copy(out, b.confirmed)
	return out
}

// CurrentHypothesisWords returns a copy of the current (tentative) hypothesis.
func (b *Buffer) CurrentHypothesisWords() []TimestampedWord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TimestampedWord, len(b.currentHypothesis))
	copy(out, b.currentHypothesis)
	return out
}

// ForceConfirmTentative commits the entire current hypothesis to the
// confirmed history, bypassing the LocalAgreement prefix check. Intended
// for session finalization, where there is no further hypothesis left to
// agree with and the caller has decided to commit whatever is tentative.
func (b *Buffer) ForceConfirmTentative() []TimestampedWord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.currentHypothesis) == 0 {
		return nil
	}
	confirmed := b.currentHypothesis
	b.confirmed = append(b.confirmed, confirmed...)
	b.confirmedInBuffer = append(b.confirmedInBuffer, confirmed...)
	if over := len(b.confirmed) - b.maxConfirmedWords; over > 0 {
		b.confirmed = b.confirmed[over:]
	}
	b.currentHypothesis = nil
	return confirmed
}

// TrimToTime evicts from the display window (not the dedup-bearing confirmed
// history) any word whose end time is strictly before t. This is bookkeeping
// for display/prompt-suffix purposes only — per-package contract, it never
// affects future LocalAgreement confirmations.
func (b *Buffer) TrimToTime(t float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.confirmedInBuffer[:0:0]
	for _, w := range b.confirmedInBuffer {
		if w.End >= t {
			kept = append(kept, w)
		}
	}
	b.confirmedInBuffer = kept
}

// GetPromptSuffix returns up to maxChars of the display window's text,
// truncated at a word boundary, suitable for feeding back into the backend
// as conditioning context.
func (b *Buffer) GetPromptSuffix(maxChars int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := joinText(b.confirmedInBuffer)
	if len(text) <= maxChars {
		return text
	}
	truncated := text[len(text)-maxChars:]
	for i, r := range truncated {
		if r == ' ' {
			return truncated[i+1:]
		}
	}
	return truncated
}

// Clear resets all buffer state: confirmed history, the display window,
// history of previous hypotheses, and the current hypothesis.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmed = nil
	b.confirmedInBuffer = nil
	b.previousHypotheses = nil
	b.currentHypothesis = nil
}
