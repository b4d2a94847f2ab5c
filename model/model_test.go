package model

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var responses []Response
	var firstErr error
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			responses = append(responses, resp)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return responses, firstErr
}

func TestMockModelEchoesWithoutScript(t *testing.T) {
	m := NewMockModel("test")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Text: "ping"}},
	})
	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "Mock response to: ping", responses[0].Text)
	assert.Equal(t, 1, m.Calls())
}

func TestMockModelScriptConsumedInOrder(t *testing.T) {
	m := NewMockModel("test")
	m.Enqueue(ScriptedTurn{Text: "first"}, ScriptedTurn{Text: "second"})

	respCh, errCh := m.Generate(context.Background(), Request{})
	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, "first", responses[0].Text)

	respCh, errCh = m.Generate(context.Background(), Request{})
	responses, err = collect(t, respCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, "second", responses[0].Text)
}

func TestMockModelStreamingConcat(t *testing.T) {
	m := NewMockModel("test")
	m.Enqueue(ScriptedTurn{Text: "hello world"})

	respCh, errCh := m.Generate(context.Background(), Request{Stream: true})
	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)

	var partials strings.Builder
	var final *Response
	for _, resp := range responses {
		if resp.Partial {
			partials.WriteString(resp.Text)
			continue
		}
		r := resp
		final = &r
	}
	require.NotNil(t, final)
	assert.Equal(t, "hello world", partials.String())
	assert.Equal(t, "hello world", final.Text)
	assert.Equal(t, "stop", final.FinishReason)
}

func TestMockModelToolCallTurn(t *testing.T) {
	m := NewMockModel("test")
	call := ToolCall{ID: "c1", Name: "web_search", Arguments: `{"input":"x"}`}
	m.Enqueue(ScriptedTurn{ToolCalls: []ToolCall{call}})

	respCh, errCh := m.Generate(context.Background(), Request{Stream: true})
	responses, err := collect(t, respCh, errCh)
	require.NoError(t, err)

	require.NotEmpty(t, responses)
	var sawDelta bool
	for _, resp := range responses[:len(responses)-1] {
		assert.True(t, resp.Partial)
		if resp.ToolCallDelta {
			sawDelta = true
		}
	}
	assert.True(t, sawDelta)

	final := responses[len(responses)-1]
	assert.False(t, final.Partial)
	assert.Equal(t, "tool_calls", final.FinishReason)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, call, final.ToolCalls[0])
}
