// internal/checkpoint/summarizer.go
package checkpoint

import (
	"context"
	"fmt"

	"github.com/user/turnloop/pkg/llm"
)

const summaryPrompt = `You compress conversation history for an assistant that will continue the conversation.
The input is JSON lines. Each line has role, text, has_tool_calls and is_tool_result.
A line with role "summary" is the summary of everything before the remaining lines.
Write one summary covering all of it: facts the user stated, decisions made, open tasks and tool outcomes that still matter.
Respond with a JSON object of the form {"summary": "..."} and nothing else.`

// LLMSummarizer summarizes transcripts with a completion provider.
type LLMSummarizer struct {
	provider llm.Provider
}

func NewLLMSummarizer(provider llm.Provider) *LLMSummarizer {
	return &LLMSummarizer{provider: provider}
}

// Summarize returns the model's raw answer; callers parse it with ParseSummary.
func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := s.provider.Complete(ctx, []llm.Message{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: transcript},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	return resp.Content, nil
}
