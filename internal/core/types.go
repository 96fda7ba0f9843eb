package core

import (
	"math"
	"time"
)

// DefaultAgentRole labels calls whose caller did not name an agent role.
const DefaultAgentRole = "unknown"

// Status is the outcome of one invocation
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request represents one invocation through the gateway.
// Params is passed to the backend untouched (messages, temperature, max_tokens, ...).
type Request struct {
	Model     string
	Params    map[string]any
	AgentRole string
}

// Result is a successful invocation: the raw provider response and its token usage.
type Result struct {
	Provider string
	Model    string
	Response any
	Usage    Usage
	Latency  time.Duration
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewUsage builds a Usage whose total is always input + output.
// Negative counts are clamped to zero and the total saturates at math.MaxInt.
func NewUsage(input, output int) Usage {
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}
	total := math.MaxInt
	if input <= math.MaxInt-output {
		total = input + output
	}
	return Usage{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  total,
	}
}

// IsZero reports whether no tokens were counted
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}
