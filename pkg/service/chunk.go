package service

import "strings"

// DefaultChunkSize is the rune window applied when an ingestion message
// does not carry an explicit chunk size.
const DefaultChunkSize = 1000

// CleanText collapses runs of whitespace to single spaces and trims the
// result. It is the preprocessing step before chunking.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SplitChunks splits text into fixed rune windows. The tail chunk may be
// shorter; empty input yields no chunks.
func SplitChunks(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(runes)+chunkSize-1)/chunkSize)
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
