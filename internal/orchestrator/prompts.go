package orchestrator

import (
	"fmt"
	"strings"

	"mosaic/internal/chunk"
)

// PromptMode selects how aggressively the model is steered toward
// sub-queries.
type PromptMode string

const (
	ModeStandard     PromptMode = "standard"
	ModeConservative PromptMode = "conservative"
	ModeNoSubcalls   PromptMode = "nosubcalls"
)

const systemPromptHeader = `You are tasked with answering a query with associated context. The context is too large to read directly, so you inspect it interactively by writing Go code that runs in a scratch environment. You will be queried iteratively until you provide a final answer.

Your context is a %s with %d total characters, broken into chunks of lengths: %s.

The scratch environment persists variables between your code executions and provides:
1. Context - the held content (type any; assert to string or []string after inspecting it).
2. LLMQuery(prompt string) string - query a sub-model that can handle around 500K characters.
3. ParallelQuery(template string, chunks []string) []string - process many chunks concurrently; the {chunk} placeholder in the template is replaced per item, and results come back in input order.
4. Hive - shared memory across parallel sub-queries and iterations: Hive.Set(key, value), Hive.Get(key, default), Hive.GetAll(), Hive.Clear(). Every ParallelQuery worker automatically receives the current Hive contents in its prompt.
5. println(...) to emit output you will see (truncated) before your next turn.

Write code in a fenced block tagged repl:

` + "```repl\nsection := Context.(string)[:10000]\nanswer := LLMQuery(\"What is the magic number? Context: \" + section)\nprintln(answer)\n```" + `

When you know the answer, emit FINAL(the answer text) for an inline answer, or FINAL_VAR(name) to return a variable from the scratch environment.`

const standardGuidance = `

Prefer ParallelQuery over sequential LLMQuery loops when analyzing multiple chunks - it is much faster and workers share findings through Hive. Accumulate findings with Hive.Set as you discover them, then aggregate at the end. Make sure to look through the entire context before answering.`

const conservativeGuidance = `

Use sub-queries sparingly: inspect the context with code first, and only call LLMQuery or ParallelQuery when direct inspection is insufficient. Keep the number of sub-queries small.`

const noSubcallsGuidance = `

Sub-queries are disabled in this session: LLMQuery and ParallelQuery return errors. Answer using code inspection of Context alone.`

func buildSystemPrompt(mode PromptMode, info chunk.Info) string {
	lengths := make([]string, len(info.Lengths))
	for i, n := range info.Lengths {
		lengths[i] = fmt.Sprintf("%d", n)
	}
	head := fmt.Sprintf(systemPromptHeader, info.Type, info.TotalLength, "["+strings.Join(lengths, ", ")+"]")

	switch mode {
	case ModeConservative:
		return head + conservativeGuidance
	case ModeNoSubcalls:
		return head + noSubcallsGuidance
	default:
		return head + standardGuidance
	}
}

// message is one turn of the iteration transcript.
type message struct {
	role    string // "user" or "assistant"
	content string
}

// buildPrompt flattens the transcript into a single prompt, matching the
// sequential feedback protocol: the primary model sees the full history of
// its own responses and the execution results each turn.
func buildPrompt(history []message) string {
	if len(history) == 1 {
		return history[0].content
	}
	parts := make([]string, len(history))
	for i, m := range history {
		if m.role == "user" {
			parts[i] = "User: " + m.content
		} else {
			parts[i] = "Assistant: " + m.content
		}
	}
	return strings.Join(parts, "\n\n")
}

func formatExecutionResults(execs []Execution) string {
	if len(execs) == 0 {
		return "No code was executed."
	}
	parts := make([]string, len(execs))
	for i, ex := range execs {
		status := "Success"
		if !ex.Success {
			status = "Failed"
		}
		parts[i] = fmt.Sprintf("Code block %d (%s):\n%s", i+1, status, ex.Output)
	}
	return strings.Join(parts, "\n\n")
}
