package hypothesis_test

import (
	"testing"

	"github.com/arborview/transcriber/internal/hypothesis"
)

func makeWords(texts []string, startTime, wordDuration float64) []hypothesis.TimestampedWord {
	words := make([]hypothesis.TimestampedWord, len(texts))
	t := startTime
	for i, text := range texts {
		words[i] = hypothesis.TimestampedWord{Text: text, Start: t, End: t + wordDuration}
		t += wordDuration
	}
	return words
}

func wordsText(words []hypothesis.TimestampedWord) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.Text
	}
	return out
}

func equalTexts(got []hypothesis.TimestampedWord, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i].Text != want[i] {
			return false
		}
	}
	return true
}

func TestInit_Defaults(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{})
	if b.AgreementN() != 2 {
		t.Fatalf("default AgreementN = %d, want 2", b.AgreementN())
	}
	if b.ConfirmedWordCount() != 0 {
		t.Fatalf("expected empty confirmed history")
	}
}

// S1 — LocalAgreement-2 basic confirmation.
func TestAgreement2_Basic(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})

	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	if confirmed := b.Flush(); len(confirmed) != 0 {
		t.Fatalf("first flush should confirm nothing, got %v", confirmed)
	}

	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	confirmed := b.Flush()
	if !equalTexts(confirmed, []string{"hello", "world"}) {
		t.Fatalf("got %v, want [hello world]", wordsText(confirmed))
	}

	b.Insert(makeWords([]string{"hello", "world", "today"}, 0, 0.5), 0)
	b.Flush()

	if got := b.GetConfirmedText(); got != "hello world" {
		t.Fatalf("confirmed text = %q, want %q", got, "hello world")
	}
	if got := b.GetTentativeText(); got != "today" {
		t.Fatalf("tentative text = %q, want %q", got, "today")
	}
}

// S2 — Partial agreement.
func TestAgreement2_Partial(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})

	b.Insert(makeWords([]string{"hello", "world", "today"}, 0, 0.5), 0)
	b.Flush()

	b.Insert(makeWords([]string{"hello", "world", "tomorrow"}, 0, 0.5), 0)
	confirmed := b.Flush()

	if !equalTexts(confirmed, []string{"hello", "world"}) {
		t.Fatalf("got %v, want [hello world]", wordsText(confirmed))
	}
	if got := b.GetTentativeText(); got != "tomorrow" {
		t.Fatalf("tentative text = %q, want %q", got, "tomorrow")
	}
}

func TestAgreement3_RequiresThreeHypotheses(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 3})

	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	b.Flush()

	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	if confirmed := b.Flush(); len(confirmed) != 0 {
		t.Fatalf("2nd flush under N=3 should confirm nothing, got %v", confirmed)
	}

	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	confirmed := b.Flush()
	if len(confirmed) != 2 {
		t.Fatalf("got %d confirmed words, want 2", len(confirmed))
	}
}

func TestAgreement_CaseInsensitive(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(makeWords([]string{"Hello", "WORLD"}, 0, 0.5), 0)
	b.Flush()
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	confirmed := b.Flush()
	if len(confirmed) != 2 {
		t.Fatalf("case-insensitive match expected, got %d confirmed", len(confirmed))
	}
}

func TestNoAgreementOnFirstWord(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	b.Flush()
	b.Insert(makeWords([]string{"hi", "world"}, 0, 0.5), 0)
	confirmed := b.Flush()
	if len(confirmed) != 0 {
		t.Fatalf("expected no confirmation on first-word mismatch, got %v", wordsText(confirmed))
	}
}

func TestEmptyHypothesis_DoesNotCrash(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(nil, 0)
	if confirmed := b.Flush(); confirmed != nil {
		t.Fatalf("expected nil confirm on empty hypothesis, got %v", confirmed)
	}
}

func TestConfirmedAccumulates(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	b.Flush()
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	confirmed := b.Flush()
	if len(confirmed) != 2 || b.ConfirmedWordCount() != 2 {
		t.Fatalf("got %d/%d, want 2/2", len(confirmed), b.ConfirmedWordCount())
	}
	if got := b.GetConfirmedText(); got != "hello world" {
		t.Fatalf("confirmed text = %q", got)
	}
}

// Incremental confirmation across three inserts, matching the source test's
// positional-prefix-agreement trace exactly.
func TestIncrementalConfirmation(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})

	b.Insert(makeWords([]string{"hello", "world", "today"}, 0, 0.5), 0)
	b.Flush()

	b.Insert(makeWords([]string{"hello", "world", "today", "is"}, 0, 0.5), 0)
	confirmed1 := b.Flush()
	if len(confirmed1) != 3 {
		t.Fatalf("confirmed1 len = %d, want 3", len(confirmed1))
	}

	b.Insert(makeWords([]string{"is", "sunny"}, 1.5, 0.5), 0)
	confirmed2 := b.Flush()
	if len(confirmed2) != 1 {
		t.Fatalf("confirmed2 len = %d, want 1", len(confirmed2))
	}
	if b.ConfirmedWordCount() != 4 {
		t.Fatalf("confirmed word count = %d, want 4", b.ConfirmedWordCount())
	}
}

func TestBoundedHistory_SingleBatch(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2, MaxConfirmedWords: 3})

	words := []string{"one", "two", "three", "four", "five"}
	b.Insert(makeWords(words, 0, 0.5), 0)
	b.Flush()
	b.Insert(makeWords(words, 0, 0.5), 0)
	b.Flush()

	if b.ConfirmedWordCount() != 3 {
		t.Fatalf("confirmed word count = %d, want 3", b.ConfirmedWordCount())
	}
	got := wordsText(b.ConfirmedWords())
	want := []string{"three", "four", "five"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("confirmed words = %v, want %v", got, want)
		}
	}
}

func TestTentativeText_BeforeFlush(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	if got := b.GetTentativeText(); got != "hello world" {
		t.Fatalf("tentative text = %q", got)
	}
	if b.TentativeWordCount() != 2 {
		t.Fatalf("tentative word count = %d, want 2", b.TentativeWordCount())
	}
}

func TestInsertReplacesCurrentHypothesis(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(makeWords([]string{"hello"}, 0, 0.5), 0)
	if got := b.GetTentativeText(); got != "hello" {
		t.Fatalf("tentative text = %q, want %q", got, "hello")
	}
	b.Insert(makeWords([]string{"world"}, 0, 0.5), 0)
	if got := b.GetTentativeText(); got != "world" {
		t.Fatalf("tentative text = %q, want %q", got, "world")
	}
}

func TestOffsetApplied(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(makeWords([]string{"hello"}, 0, 0.5), 5.0)
	got := b.CurrentHypothesisWords()
	if len(got) != 1 || got[0].Start < 4.999 || got[0].Start > 5.001 {
		t.Fatalf("got start = %v, want ~5.0", got)
	}
}

func TestDedupeWithConfirmed(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	b.Flush()
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	b.Flush()

	b.Insert(makeWords([]string{"world", "today"}, 0.5, 0.5), 0)
	if got := b.GetTentativeText(); got != "today" {
		t.Fatalf("tentative text = %q, want %q (world should be deduped)", got, "today")
	}
}

func TestTrimToTime_RemovesOldWords(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 1})
	b.Insert(makeWords([]string{"hello", "world", "today", "here"}, 0, 0.5), 0)
	b.Flush() // N=1: confirms immediately, populating the display window

	b.TrimToTime(1.0)
	// hello ends at 0.5 (< 1.0, dropped from the display window, but NOT
	// from the dedup-bearing confirmed history).
	if b.GetPromptSuffix(1000) == "hello world today here" {
		t.Fatalf("expected trimmed display window to drop 'hello'")
	}
	if b.ConfirmedWordCount() != 4 {
		t.Fatalf("TrimToTime must not affect the dedup-bearing confirmed history, got count=%d", b.ConfirmedWordCount())
	}
}

func TestPromptSuffix_Truncation(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 1})
	b.Insert(makeWords([]string{"this", "is", "a", "very", "long", "sentence", "here"}, 0, 0.3), 0)
	b.Flush()

	suffix := b.GetPromptSuffix(15)
	if len(suffix) > 15 {
		t.Fatalf("suffix length %d exceeds max_chars 15: %q", len(suffix), suffix)
	}
}

func TestPromptSuffix_Empty(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{})
	if got := b.GetPromptSuffix(200); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestClear_ResetsAll(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	b.Flush()
	b.Insert(makeWords([]string{"hello", "world"}, 0, 0.5), 0)
	b.Flush()

	b.Clear()

	if b.ConfirmedWordCount() != 0 || b.TentativeWordCount() != 0 {
		t.Fatalf("expected clear to reset all counts to zero")
	}
}

// S6 — Prefix monotonicity under adversarial backend.
func TestPrefixMonotonicity_AdversarialBackend(t *testing.T) {
	b := hypothesis.New(hypothesis.Config{AgreementN: 2})

	passes := [][]string{
		{"hello", "wor"},
		{"hello", "world"},
		{"hello", "wor"},
		{"hello", "world"},
	}

	var prevConfirmed string
	for _, texts := range passes {
		b.Insert(makeWords(texts, 0, 0.5), 0)
		b.Flush()
		confirmedText := b.GetConfirmedText()
		if prevConfirmed != "" && len(confirmedText) < len(prevConfirmed) {
			t.Fatalf("confirmed text shrank: %q -> %q", prevConfirmed, confirmedText)
		}
		if prevConfirmed != "" && confirmedText[:len(prevConfirmed)] != prevConfirmed {
			t.Fatalf("confirmed text not prefix-monotonic: %q -> %q", prevConfirmed, confirmedText)
		}
		prevConfirmed = confirmedText
	}
}
