package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortTextIsUntouched(t *testing.T) {
	got := Split("A short line.", 100)
	if len(got) != 1 || got[0] != "A short line." {
		t.Fatalf("Split = %q", got)
	}
}

func TestSplitEmptyText(t *testing.T) {
	if got := Split("   ", 100); got != nil {
		t.Fatalf("Split of blank text = %q, want nil", got)
	}
}

func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	text := "The dragon woke. It stretched its wings. The village below slept on."
	got := Split(text, 40)

	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %q", got)
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 40 {
			t.Fatalf("chunk exceeds limit: %q", c)
		}
		if !strings.HasSuffix(c, ".") {
			t.Fatalf("chunk does not end on a sentence boundary: %q", c)
		}
	}
	if joined := strings.Join(got, " "); joined != text {
		t.Fatalf("reassembled text = %q, want original", joined)
	}
}

func TestSplitFallsBackToWords(t *testing.T) {
	// One long sentence with no internal punctuation.
	text := strings.Repeat("onward the riders went ", 10)
	got := Split(text, 50)

	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 50 {
			t.Fatalf("chunk exceeds limit: %q", c)
		}
	}
	if strings.Join(got, " ") != strings.TrimSpace(text) {
		t.Fatal("word-split chunks lost content")
	}
}

func TestSplitHardSplitsUnbrokenRuns(t *testing.T) {
	text := strings.Repeat("x", 130)
	got := Split(text, 50)

	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if strings.Join(got, "") != text {
		t.Fatal("rune-split chunks lost content")
	}
}
