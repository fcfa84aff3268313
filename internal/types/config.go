// internal/types/config.go
package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ToolResultFilterConfig controls placeholder filtering of old tool results.
// KeepRecentCount of 0 disables filtering.
type ToolResultFilterConfig struct {
	KeepRecentCount int `json:"keep_recent_count" validate:"gte=0"`
}

// SummarizationConfig controls checkpoint creation.
type SummarizationConfig struct {
	Enabled     bool                   `json:"enabled"`
	TriggerAt   int                    `json:"trigger_at" validate:"gte=1,gtfield=KeepRecent"`
	KeepRecent  int                    `json:"keep_recent" validate:"gte=0"`
	ToolResults ToolResultFilterConfig `json:"tool_results"`
}

func DefaultSummarizationConfig() SummarizationConfig {
	return SummarizationConfig{
		Enabled:     false,
		TriggerAt:   50,
		KeepRecent:  10,
		ToolResults: ToolResultFilterConfig{KeepRecentCount: 3},
	}
}

// Validate rejects configurations under which the scheduler could never
// trigger. A disabled config is always valid.
func (c SummarizationConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid summarization config: %w", err)
	}
	return nil
}
