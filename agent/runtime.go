// Package agent implements the reasoning runtime: given a user message and a
// bounded history window it produces the assistant reply, either blocking or
// as a stream of typed events, optionally interleaving capability calls under
// hard iteration and wall-clock bounds. Failures never escape as errors; they
// are classified into fixed user-facing sentences while the real cause is
// logged.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/trendchat/trendchat/core"
	"github.com/trendchat/trendchat/logging"
	"github.com/trendchat/trendchat/model"
	"github.com/trendchat/trendchat/tool"
)

// Safe user-facing sentences for absorbed reasoning failures. The real cause
// is only ever logged server-side.
const (
	FallbackBusy    = "Service is temporarily busy. Please try again in a moment."
	FallbackTimeout = "The request took too long. Please try a shorter question or try again later."
	FallbackGeneric = "Something went wrong while answering. Please try again."

	emptyMessageReply = "Please provide a message."
)

const (
	toolInstructions = "You are a helpful assistant with access to tools. Use them when they would " +
		"help answer the user. When you use a tool, summarize the result clearly for the user. " +
		"If a tool fails, say so and answer from your knowledge if possible."
	directInstructions = "You are a helpful assistant. Answer the user concisely. Use the " +
		"conversation history for context when the user refers to earlier messages."
)

// executorKind selects the execution strategy once at construction time based
// on tool availability.
type executorKind int

const (
	executorDirect executorKind = iota
	executorToolCalling
)

// EventKind tags runtime stream events.
type EventKind int

const (
	// EventToken carries a fragment of the final answer text.
	EventToken EventKind = iota
	// EventToolStart announces a capability invocation beginning.
	EventToolStart
)

// Event is one element of the runtime's streaming output.
type Event struct {
	Kind  EventKind
	Token string
	Tool  string
}

// Result is the outcome of a blocking answer: the reply text plus the
// deduplicated names of capabilities actually invoked.
type Result struct {
	Text      string
	ToolsUsed []string
}

// callLogger is the richer logging surface used when the configured logger
// supports it, as *logging.ChatLogger does.
type callLogger interface {
	LogToolCall(tool string, dur time.Duration, success bool)
	LogModelCall(model string, dur time.Duration, success bool, err error)
}

// Options configure the runtime.
type Options struct {
	Instructions     string
	MaxIterations    int
	Timeout          time.Duration
	ModelCallsPerSec float64
	Logger           logging.Logger
}

// Runtime drives the reasoning loop against a model binding and a capability
// registry. It is immutable after construction and safe for concurrent use;
// construct it once at process start and inject it where needed.
type Runtime struct {
	llm           model.Model
	registry      *tool.Registry
	kind          executorKind
	instructions  string
	maxIterations int
	timeout       time.Duration
	limiter       *rate.Limiter
	logger        logging.Logger
	calls         callLogger
}

// New constructs a Runtime. The executor kind is fixed here: a non-empty
// registry selects the tool-calling loop, otherwise the direct single-pass
// completion.
func New(llm model.Model, registry *tool.Registry, optFns ...func(o *Options)) *Runtime {
	opts := Options{
		MaxIterations:    10,
		Timeout:          60 * time.Second,
		ModelCallsPerSec: 5,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if registry == nil {
		registry = tool.NewRegistry()
	}

	kind := executorDirect
	instructions := directInstructions
	if !registry.Empty() && llm.Info().SupportsTools {
		kind = executorToolCalling
		instructions = toolInstructions
	}
	if opts.Instructions != "" {
		instructions = opts.Instructions
	}

	var limiter *rate.Limiter
	if opts.ModelCallsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ModelCallsPerSec), 1)
	}

	calls, _ := opts.Logger.(callLogger)

	return &Runtime{
		llm:           llm,
		registry:      registry,
		kind:          kind,
		instructions:  instructions,
		maxIterations: opts.MaxIterations,
		timeout:       opts.Timeout,
		limiter:       limiter,
		logger:        opts.Logger,
		calls:         calls,
	}
}

// ToolNames returns the names of the capabilities offered to the loop.
func (r *Runtime) ToolNames() []string {
	tools := r.registry.Tools()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name())
	}
	return names
}

// Answer produces the full reply in one blocking call. It never returns an
// error: reasoning faults collapse into one of the fixed fallback sentences.
func (r *Runtime) Answer(ctx context.Context, message string, history []core.HistoryEntry) Result {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{Text: emptyMessageReply}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.kind == executorDirect {
		text, err := r.complete(ctx, r.buildMessages(message, history), nil, false)
		if err != nil {
			return Result{Text: r.classify(err)}
		}
		return Result{Text: strings.TrimSpace(text)}
	}

	return r.runLoop(ctx, message, history, nil)
}

// Stream produces a lazy, finite sequence of token and tool-start events.
// The channel is closed after the final event and never ends empty: if the
// underlying engine yields nothing, the blocking answer is emitted as a
// single token.
func (r *Runtime) Stream(ctx context.Context, message string, history []core.HistoryEntry) <-chan Event {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		emitted := r.streamInto(ctx, strings.TrimSpace(message), history, out)
		if !emitted {
			res := r.Answer(ctx, message, history)
			if res.Text != "" {
				out <- Event{Kind: EventToken, Token: res.Text}
			}
		}
	}()
	return out
}

// streamInto runs the streaming executor and reports whether any token was
// emitted.
func (r *Runtime) streamInto(ctx context.Context, message string, history []core.HistoryEntry, out chan<- Event) bool {
	if message == "" {
		out <- Event{Kind: EventToken, Token: emptyMessageReply}
		return true
	}
	if !r.llm.Info().SupportsStream {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.kind == executorDirect {
		return r.streamDirect(ctx, message, history, out)
	}
	return r.streamLoop(ctx, message, history, out)
}

// streamDirect forwards completion deltas as the engine produces them.
func (r *Runtime) streamDirect(ctx context.Context, message string, history []core.HistoryEntry, out chan<- Event) bool {
	if err := r.waitModelSlot(ctx); err != nil {
		out <- Event{Kind: EventToken, Token: r.classify(err)}
		return true
	}

	respCh, errCh := r.llm.Generate(ctx, model.Request{
		Instructions: r.instructions,
		Messages:     r.buildMessages(message, history),
		Stream:       true,
	})

	emitted := false
	finalText := ""
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if resp.Text != "" {
					out <- Event{Kind: EventToken, Token: resp.Text}
					emitted = true
				}
				continue
			}
			finalText = resp.Text
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				r.logger.Error("agent stream failed", "error", err.Error())
				out <- Event{Kind: EventToken, Token: r.classify(err)}
				return true
			}
		}
	}

	if !emitted && finalText != "" {
		out <- Event{Kind: EventToken, Token: finalText}
		emitted = true
	}
	return emitted
}

// streamLoop runs the tool-calling loop while forwarding only two classes of
// signal: tool invocations beginning, and text that belongs to the final
// answer. Partial tool-argument deltas are filtered out, and text buffered
// during an iteration that turns out to issue tool calls is discarded.
func (r *Runtime) streamLoop(ctx context.Context, message string, history []core.HistoryEntry, out chan<- Event) bool {
	working := r.buildMessages(message, history)
	emitted := false

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		if err := r.waitModelSlot(ctx); err != nil {
			out <- Event{Kind: EventToken, Token: r.classify(err)}
			return true
		}

		respCh, errCh := r.llm.Generate(ctx, model.Request{
			Instructions: r.instructions,
			Messages:     working,
			Tools:        r.registry.Definitions(),
			Stream:       true,
		})

		var pending []string
		var final *model.Response
	drain:
		for respCh != nil || errCh != nil {
			select {
			case resp, ok := <-respCh:
				if !ok {
					respCh = nil
					continue
				}
				if resp.Partial {
					if !resp.ToolCallDelta && resp.Text != "" {
						pending = append(pending, resp.Text)
					}
					continue
				}
				final = &resp
			case err, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				if err != nil {
					r.logger.Error("agent stream failed", "error", err.Error())
					out <- Event{Kind: EventToken, Token: r.classify(err)}
					return true
				}
				break drain
			}
		}

		if final == nil {
			out <- Event{Kind: EventToken, Token: FallbackGeneric}
			return true
		}

		if len(final.ToolCalls) == 0 {
			// Final answer: flush buffered deltas, preserving the engine's
			// chunking.
			for _, token := range pending {
				out <- Event{Kind: EventToken, Token: token}
				emitted = true
			}
			if !emitted && final.Text != "" {
				out <- Event{Kind: EventToken, Token: final.Text}
				emitted = true
			}
			return emitted
		}

		working = append(working, assistantCallTurn(final))
		results := make([]model.ToolResult, 0, len(final.ToolCalls))
		for _, call := range final.ToolCalls {
			out <- Event{Kind: EventToolStart, Tool: call.Name}
			results = append(results, r.invokeTool(ctx, call))
		}
		working = append(working, model.Message{Role: "tool", ToolResults: results})
	}

	r.logger.Warn("agent stream exceeded iteration cap", "max_iterations", r.maxIterations)
	out <- Event{Kind: EventToken, Token: FallbackTimeout}
	return true
}

// runLoop is the blocking tool-calling loop bounded by the iteration cap and
// the wall-clock deadline carried by ctx.
func (r *Runtime) runLoop(ctx context.Context, message string, history []core.HistoryEntry, toolsUsed []string) Result {
	working := r.buildMessages(message, history)

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		text, final, err := r.completeWithCalls(ctx, working)
		if err != nil {
			return Result{Text: r.classify(err), ToolsUsed: dedupe(toolsUsed)}
		}

		if final == nil || len(final.ToolCalls) == 0 {
			return Result{Text: strings.TrimSpace(text), ToolsUsed: dedupe(toolsUsed)}
		}

		working = append(working, assistantCallTurn(final))
		results := make([]model.ToolResult, 0, len(final.ToolCalls))
		for _, call := range final.ToolCalls {
			toolsUsed = append(toolsUsed, call.Name)
			results = append(results, r.invokeTool(ctx, call))
		}
		working = append(working, model.Message{Role: "tool", ToolResults: results})
	}

	r.logger.Warn("agent exceeded iteration cap", "max_iterations", r.maxIterations)
	return Result{Text: FallbackTimeout, ToolsUsed: dedupe(toolsUsed)}
}

// complete issues one non-streaming generation and returns the final text.
func (r *Runtime) complete(ctx context.Context, messages []model.Message, tools []model.ToolDefinition, stream bool) (string, error) {
	if err := r.waitModelSlot(ctx); err != nil {
		return "", err
	}
	start := time.Now()
	respCh, errCh := r.llm.Generate(ctx, model.Request{
		Instructions: r.instructions,
		Messages:     messages,
		Tools:        tools,
		Stream:       stream,
	})

	text := ""
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				text = resp.Text
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				r.logModelCall(start, err)
				return "", err
			}
		}
	}
	r.logModelCall(start, nil)
	return text, nil
}

// completeWithCalls issues one non-streaming generation and returns the final
// response including any tool calls.
func (r *Runtime) completeWithCalls(ctx context.Context, messages []model.Message) (string, *model.Response, error) {
	if err := r.waitModelSlot(ctx); err != nil {
		return "", nil, err
	}
	start := time.Now()
	respCh, errCh := r.llm.Generate(ctx, model.Request{
		Instructions: r.instructions,
		Messages:     messages,
		Tools:        r.registry.Definitions(),
	})

	var final *model.Response
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				final = &resp
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				r.logModelCall(start, err)
				return "", nil, err
			}
		}
	}
	r.logModelCall(start, nil)
	if final == nil {
		return "", nil, nil
	}
	return final.Text, final, nil
}

// invokeTool resolves and runs one capability, always producing an
// observation. Malformed arguments are not surfaced as failures; the raw
// argument payload is passed through as the input instead so the loop can
// recover on its own.
func (r *Runtime) invokeTool(ctx context.Context, call model.ToolCall) model.ToolResult {
	impl, ok := r.registry.Get(call.Name)
	if !ok {
		r.logToolCall(call.Name, time.Now(), false)
		return model.ToolResult{
			ID:      call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("Error: tool %s is not available.", call.Name),
		}
	}

	start := time.Now()
	observation := impl.Invoke(ctx, extractInput(call.Arguments))
	r.logToolCall(call.Name, start, true)

	return model.ToolResult{ID: call.ID, Name: call.Name, Content: observation}
}

func (r *Runtime) logModelCall(start time.Time, err error) {
	if r.calls != nil {
		r.calls.LogModelCall(r.llm.Info().Name, time.Since(start), err == nil, err)
		return
	}
	if err != nil {
		r.logger.Error("model call failed", "model", r.llm.Info().Name, "duration", time.Since(start), "error", err.Error())
	}
}

func (r *Runtime) logToolCall(name string, start time.Time, resolved bool) {
	if r.calls != nil {
		r.calls.LogToolCall(name, time.Since(start), resolved)
		return
	}
	if resolved {
		r.logger.Info("tool invoked", "tool", name, "duration", time.Since(start))
	} else {
		r.logger.Warn("unknown tool requested", "tool", name)
	}
}

// extractInput pulls the single free-text argument out of the call payload,
// falling back to the raw payload when it does not parse.
func extractInput(arguments string) string {
	if arguments == "" {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return arguments
	}
	for _, key := range []string{"input", "query", "q"} {
		if v, ok := args[key].(string); ok {
			return v
		}
	}
	return arguments
}

// buildMessages assembles the provider-neutral prompt: history window first
// (oldest-first), the inbound message last. Empty entries and non-chat roles
// are skipped.
func (r *Runtime) buildMessages(message string, history []core.HistoryEntry) []model.Message {
	messages := make([]model.Message, 0, len(history)+1)
	for _, h := range history {
		content := strings.TrimSpace(h.Content)
		if content == "" {
			continue
		}
		switch h.Role {
		case core.RoleUser:
			messages = append(messages, model.Message{Role: "user", Text: content})
		case core.RoleAssistant:
			messages = append(messages, model.Message{Role: "assistant", Text: content})
		}
	}
	// The orchestrator stores the inbound message before computing the
	// window, so it may already be the last history entry.
	if len(messages) == 0 || messages[len(messages)-1].Text != message || messages[len(messages)-1].Role != "user" {
		messages = append(messages, model.Message{Role: "user", Text: message})
	}
	return messages
}

func assistantCallTurn(final *model.Response) model.Message {
	return model.Message{Role: "assistant", Text: final.Text, ToolCalls: final.ToolCalls}
}

func (r *Runtime) waitModelSlot(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// classify maps an absorbed failure onto one of the three safe sentences.
func (r *Runtime) classify(err error) string {
	if err == nil {
		return FallbackGeneric
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"):
		return FallbackTimeout
	case strings.Contains(msg, "rate"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "429"):
		r.logger.Warn("model rate or quota exhausted", "error", err.Error())
		return FallbackBusy
	default:
		return FallbackGeneric
	}
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
