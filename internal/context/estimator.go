// internal/context/estimator.go
package context

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/turnloop/internal/types"
)

// perMessageOverhead approximates the role/framing tokens each chat message costs.
const perMessageOverhead = 4

// Estimator counts tokens of a selected context. It uses a tiktoken BPE
// table when one is available and a four-characters-per-token heuristic
// otherwise.
type Estimator struct {
	tokenizer *tiktoken.Tiktoken
}

// NewEstimator returns an estimator for model. An empty model selects the
// heuristic directly and never touches the network.
func NewEstimator(model string) *Estimator {
	if model == "" {
		return &Estimator{}
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tokenizer unavailable, using heuristic", "model", model, "error", err)
			return &Estimator{}
		}
	}
	return &Estimator{tokenizer: enc}
}

// CountText returns the token count for a string.
func (e *Estimator) CountText(text string) int {
	if e == nil || e.tokenizer == nil {
		return (len(text) + 3) / 4
	}
	return len(e.tokenizer.Encode(text, nil, nil))
}

// Count returns the estimated token count of msgs.
func (e *Estimator) Count(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead + e.CountText(m.Text)
		for _, tc := range m.ToolCalls {
			total += e.CountText(tc.Name) + e.CountText(string(tc.Arguments))
		}
		for _, c := range m.Content {
			total += e.CountText(c.Text)
		}
	}
	return total
}
