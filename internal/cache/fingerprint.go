package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"mosaic/internal/llm"
)

// Fingerprint derives the content-addressed key for one logical model
// request. Prompt and system prompt are whitespace-stripped and temperature
// is rendered at fixed precision, so incidental formatting differences
// collide to the same entry while any change to model, temperature, system
// prompt, or params is a guaranteed miss.
func Fingerprint(prompt, modelID string, temperature float64, systemPrompt string, params llm.Params) string {
	input := strings.Join([]string{
		strings.TrimSpace(prompt),
		modelID,
		fmt.Sprintf("%.4f", temperature),
		strings.TrimSpace(systemPrompt),
		params.Canonical(),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
