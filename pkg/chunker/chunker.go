// Package chunker splits narration text into pieces a voice backend will
// accept. Speech APIs cap the input length per request; a long story
// paragraph has to be cut before synthesis, and cutting mid-sentence
// produces audible artifacts at the seam.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// Split breaks text into chunks of at most maxChars runes, preferring
// sentence boundaries, then word boundaries, then a hard rune split for
// degenerate input. Chunks come back in reading order with whitespace
// trimmed; empty input yields nil.
func Split(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, sentence := range splitSentences(text) {
		if utf8.RuneCountInString(sentence) > maxChars {
			flush()
			chunks = append(chunks, splitWords(sentence, maxChars)...)
			continue
		}
		if current.Len() > 0 && utf8.RuneCountInString(current.String()+sentence) > maxChars {
			flush()
		}
		current.WriteString(sentence)
	}
	flush()

	return chunks
}

func splitWords(text string, maxChars int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, word := range strings.Fields(text) {
		if utf8.RuneCountInString(word) > maxChars {
			flush()
			chunks = append(chunks, splitRunes(word, maxChars)...)
			continue
		}
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+1+utf8.RuneCountInString(word) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()

	return chunks
}

func splitRunes(text string, maxChars int) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}
