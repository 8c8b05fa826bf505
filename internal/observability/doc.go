// Package observability provides the ambient operational surface for the
// CLIO runtime: structured logging, OpenTelemetry tracing, and an
// in-memory event timeline. Prometheus metrics live next to the context
// budget manager, which records most of them.
//
// # Logging
//
// Logger wraps slog with context-carried correlation IDs (request,
// session, turn) and secret redaction. Every string that passes through
// the logger is scrubbed by the shared redact package before it reaches
// a handler, so credentials never land in log files. Output defaults to
// stderr because stdout carries ACP protocol traffic. Components that
// want a plain *slog.Logger use NewSlogLogger, which shares the same
// redacting handler chain.
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	ctx = observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "turn started", "prompt_id", promptID)
//
// # Tracing
//
// Tracer wraps OpenTelemetry with helpers for the spans the runtime
// creates: the orchestrator opens a process_prompt span per turn and an
// llm.<provider> span per streaming request, the tool executor opens a
// tool.<name> span per invocation, and the MCP client opens an
// mcp.tools/call span per round-trip. With no OTLP endpoint configured
// the tracer is a no-op; a nil *Tracer is safe everywhere.
//
//	ctx, span := tracer.TracePromptProcessing(ctx, sessionID, promptID)
//	defer span.End()
//
// # Events
//
// MemoryEventStore and EventRecorder keep a bounded in-process timeline
// of run, tool, LLM, and MCP events; the orchestrator records into it
// alongside the session/update stream so a session can be debugged after
// the fact, and Timeline renders it for inspection.
package observability
