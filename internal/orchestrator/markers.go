package orchestrator

import (
	"regexp"
	"strings"
)

// Code blocks are fenced with the repl or go language tag. The newline after
// the tag is optional; models occasionally emit inline fences.
var codeBlockRe = regexp.MustCompile("(?s)```(?:repl|go)\n?(.*?)```")

// Final-answer markers. FINAL carries an inline value; FINAL_VAR names a
// variable in the scratch namespace. When a response contains both, the
// inline form wins.
var (
	finalRe    = regexp.MustCompile(`(?s)FINAL\((.*?)\)`)
	finalVarRe = regexp.MustCompile(`FINAL_VAR\((\w+)\)`)
)

func extractCodeBlocks(response string) []string {
	matches := codeBlockRe.FindAllStringSubmatch(response, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		if code := strings.TrimSpace(m[1]); code != "" {
			blocks = append(blocks, code)
		}
	}
	return blocks
}

// finalMarker is the parsed termination marker from one response.
type finalMarker struct {
	inline  string
	varName string
	found   bool
}

func scanFinal(response string) finalMarker {
	if m := finalRe.FindStringSubmatch(response); m != nil {
		return finalMarker{inline: strings.TrimSpace(m[1]), found: true}
	}
	if m := finalVarRe.FindStringSubmatch(response); m != nil {
		return finalMarker{varName: m[1], found: true}
	}
	return finalMarker{}
}
