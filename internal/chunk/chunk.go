// Package chunk provides text splitting and sizing helpers used when
// describing held content to the model and when model-authored code slices
// the content for sub-queries.
package chunk

import (
	"errors"
	"fmt"
)

// Split divides text into chunks of at most size characters with the given
// overlap between consecutive chunks.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if overlap < 0 {
		return nil, errors.New("overlap must be non-negative")
	}
	if overlap >= size {
		return nil, errors.New("overlap must be less than chunk size")
	}

	var chunks []string
	for start := 0; start < len(text); {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start += size - overlap
	}
	return chunks, nil
}

// EstimateTokens approximates the token count of text at ~4 characters per
// token. Good enough for budgeting; exact counting is a collaborator concern.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Info describes held content for the system prompt without exposing the
// content itself.
type Info struct {
	Type        string
	TotalLength int
	Lengths     []int
}

// Describe summarizes content. A single string is one chunk; a slice reports
// the per-chunk lengths.
func Describe(content any) Info {
	switch c := content.(type) {
	case string:
		return Info{Type: "string", TotalLength: len(c), Lengths: []int{len(c)}}
	case []string:
		total := 0
		lengths := make([]int, len(c))
		for i, s := range c {
			lengths[i] = len(s)
			total += len(s)
		}
		return Info{Type: "list of strings", TotalLength: total, Lengths: lengths}
	default:
		s := fmt.Sprintf("%v", content)
		return Info{Type: fmt.Sprintf("%T", content), TotalLength: len(s), Lengths: []int{len(s)}}
	}
}
