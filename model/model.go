// Package model defines the normalized inference-engine boundary: requests
// built from instructions, conversation history and tool definitions, and a
// channel-based response stream unified across providers.
package model

import (
	"context"
	"fmt"
	"sync"
)

// ToolCall is a function invocation request surfaced by a model provider,
// unified across vendors so downstream logic does not need per-provider
// branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string of arguments
}

// ToolResult carries the observation produced for a previously issued call.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ToolDefinition declaratively exposes a callable capability to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one conversational turn in provider-neutral form. Assistant
// turns may carry ToolCalls; turns with Role "tool" carry ToolResults.
type Message struct {
	Role        string       `json:"role"` // system, user, assistant, tool
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Request captures the normalized model input produced by the agent runtime.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// Response is a (partial or final) chunk emitted by a model.
//
// Partial chunks carry either a text delta (Text) or an aggregated tool-call
// delta (ToolCalls with ToolCallDelta set). The final chunk carries the full
// accumulated text plus any complete tool calls and a non-empty FinishReason.
type Response struct {
	Partial       bool       `json:"partial"`
	Text          string     `json:"text,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
	ToolCallDelta bool       `json:"tool_call_delta,omitempty"`
	FinishReason  string     `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", ...
}

// Info contains metadata about a model implementation.
type Info struct {
	Name           string `json:"name"`
	Provider       string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools  bool   `json:"supports_tools"`
	SupportsStream bool   `json:"supports_stream"`
}

// Model is the minimal interface required to drive generation. Generate
// returns a response channel and a terminal error channel; both are closed
// when the call completes or the context is cancelled.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ScriptedTurn is one canned model turn used by MockModel. Either Text or
// ToolCalls is populated; Err aborts the turn through the error channel.
type ScriptedTurn struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
}

// MockModel is a lightweight in-memory Model useful for tests. Turns are
// consumed from a FIFO script; with an empty script it echoes the last user
// message.
type MockModel struct {
	info   Info
	mu     sync.Mutex
	script []ScriptedTurn
	calls  int
}

// NewMockModel constructs a MockModel with tool and streaming support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true, SupportsStream: true},
	}
}

// Enqueue appends scripted turns consumed in order by subsequent Generate calls.
func (m *MockModel) Enqueue(turns ...ScriptedTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, turns...)
}

// Calls returns how many Generate invocations have been made.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockModel) nextTurn(req Request) ScriptedTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.script) > 0 {
		turn := m.script[0]
		m.script = m.script[1:]
		return turn
	}
	var last string
	for _, msg := range req.Messages {
		if msg.Role == "user" && msg.Text != "" {
			last = msg.Text
		}
	}
	return ScriptedTurn{Text: fmt.Sprintf("Mock response to: %s", last)}
}

// Generate implements Model; emits optional streaming chunks then the final
// response for the next scripted turn.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	turn := m.nextTurn(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if len(turn.ToolCalls) > 0 {
			if req.Stream {
				// Argument deltas the consumer is expected to filter out.
				for _, tc := range turn.ToolCalls {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case respCh <- Response{Partial: true, ToolCallDelta: true, ToolCalls: []ToolCall{tc}}:
					}
				}
			}
			respCh <- Response{ToolCalls: turn.ToolCalls, FinishReason: "tool_calls"}
			return
		}

		if req.Stream {
			for _, r := range turn.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		respCh <- Response{Text: turn.Text, FinishReason: "stop"}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
