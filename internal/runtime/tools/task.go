package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/turnloop/internal/types"
)

// CompleteTask lets the model declare an autonomous task finished. The
// engine surfaces its result as the turn's completion signal.
type CompleteTask struct{}

func NewCompleteTask() *CompleteTask { return &CompleteTask{} }

func (c *CompleteTask) Name() string { return types.CompleteTaskTool }
func (c *CompleteTask) Description() string {
	return "Call when the task is finished. Pass the final result for the user."
}
func (c *CompleteTask) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"result": {"type": "string", "description": "The outcome of the task"}
		},
		"required": ["result"]
	}`)
}

func (c *CompleteTask) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if strings.TrimSpace(params.Result) == "" {
		return "", errors.New("result is required")
	}
	return params.Result, nil
}

// AskUser is a UI tool: the model asks the human a question and the turn
// pauses until the caller supplies the answer.
type AskUser struct{}

func NewAskUser() *AskUser { return &AskUser{} }

func (a *AskUser) Name() string        { return "ask_user" }
func (a *AskUser) Description() string { return "Ask the user a clarifying question and wait for the answer" }
func (a *AskUser) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The question to ask"}
		},
		"required": ["question"]
	}`)
}
func (a *AskUser) UI() bool { return true }

func (a *AskUser) Execute(context.Context, json.RawMessage) (string, error) {
	return "", errors.New("ask_user is answered by the user")
}

// Question extracts the question from ask_user arguments.
func (a *AskUser) Question(args json.RawMessage) string {
	var params struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.Question == "" {
		return string(args)
	}
	return params.Question
}
