// Package core defines the domain types shared across the chat service:
// conversations, messages, the reduced history projection handed to the agent
// runtime, the error taxonomy crossing the orchestrator boundary, and the
// invocation admission limiter.
package core
