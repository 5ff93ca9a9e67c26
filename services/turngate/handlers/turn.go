// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TurnGate/services/llm"
	"github.com/AleutianAI/TurnGate/services/turngate/canonops"
	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
	"github.com/AleutianAI/TurnGate/services/turngate/gatekeeper"
	"github.com/AleutianAI/TurnGate/services/turngate/middleware"
	"github.com/AleutianAI/TurnGate/services/turngate/observability"
	"github.com/AleutianAI/TurnGate/services/turngate/retrieval"
	"github.com/AleutianAI/TurnGate/services/turngate/telemetry"
	"github.com/AleutianAI/TurnGate/services/turngate/tools"
	"github.com/AleutianAI/TurnGate/services/turngate/writeback"
)

var tracer = otel.Tracer("turngate.handlers")

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxToolLoopIterations caps the tool loop. Hitting the cap fails the
	// whole turn; no partial answer is streamed.
	MaxToolLoopIterations = 6

	// keepAliveInterval is the SSE heartbeat period during generation.
	keepAliveInterval = 15 * time.Second

	// retrievalRetries is how many additional attempts a failed
	// pre-stream retrieval gets. Retrieval is read-only, so one retry
	// is safe.
	retrievalRetries = 1
)

// TurnState labels one phase of the responder state machine. Every turn
// advances INIT through FINALIZED and ends in DONE or FAILED; transitions
// are recorded on the event log and the active span.
type TurnState string

const (
	StateInit      TurnState = "INIT"
	StateGated     TurnState = "GATED"
	StateRouted    TurnState = "ROUTED"
	StateEnforced  TurnState = "ENFORCED"
	StateStreaming TurnState = "STREAMING"
	StateToolLoop  TurnState = "TOOL_LOOP"
	StateFinalized TurnState = "FINALIZED"
	StateDone      TurnState = "DONE"
	StateFailed    TurnState = "FAILED"
)

// =============================================================================
// Handler
// =============================================================================

// TurnHandler serves POST /v1/turn.
//
// # Description
//
// TurnHandler runs the whole turn pipeline: request validation, tool
// gating, retrieval routing, canon enforcement binding, a streaming or
// tool-loop response, writeback, and taps. Errors before the first SSE
// byte map to HTTP statuses; failures after streaming begins surface as
// a terminal SSE error event.
//
// # Thread Safety
//
// Safe for concurrent use. Per-turn state lives in a turnRun.
type TurnHandler interface {
	HandleTurn(c *gin.Context)
}

type turnHandler struct {
	gate      *gatekeeper.Gatekeeper
	router    *retrieval.Router
	retriever *retrieval.Retriever
	overlay   *canonops.OverlayProvider
	llm       llm.LLMClient
	writeback *writeback.Service
	taps      *telemetry.Recorder
	metrics   *observability.TurnMetrics
	static    []tools.Tool
	workers   int
}

// NewTurnHandler builds the turn handler.
//
// # Inputs
//
//   - gate: tool authorization. Must not be nil.
//   - router: retrieval mode routing.
//   - retriever: store search execution.
//   - overlay: canon overlay provider, hot reloaded.
//   - llmClient: chat backend (streaming and tool calling).
//   - wb: writeback service; also carries the event log.
//   - taps: retrieval and stream tap recorder.
//   - metrics: turn metrics. Must not be nil.
//   - static: tools registered for every turn. The search tool is built
//     per turn and must not appear here.
//   - workers: tool executor concurrency within one loop iteration.
func NewTurnHandler(
	gate *gatekeeper.Gatekeeper,
	router *retrieval.Router,
	retriever *retrieval.Retriever,
	overlay *canonops.OverlayProvider,
	llmClient llm.LLMClient,
	wb *writeback.Service,
	taps *telemetry.Recorder,
	metrics *observability.TurnMetrics,
	static []tools.Tool,
	workers int,
) TurnHandler {
	return &turnHandler{
		gate:      gate,
		router:    router,
		retriever: retriever,
		overlay:   overlay,
		llm:       llmClient,
		writeback: wb,
		taps:      taps,
		metrics:   metrics,
		static:    static,
		workers:   workers,
	}
}

// =============================================================================
// Per-turn state
// =============================================================================

// turnRun carries one turn through the state machine.
type turnRun struct {
	h     *turnHandler
	c     *gin.Context
	req   datatypes.TurnRequest
	state TurnState
	span  trace.Span
	start time.Time

	effective datatypes.ToolsState
	plan      datatypes.RetrievalPlan
	search    *tools.SearchTool
	path      observability.Path

	firstToken bool
}

// transition advances the state machine, recording the step on the span
// and the append-only event log.
func (r *turnRun) transition(ctx context.Context, to TurnState, detail string) {
	from := r.state
	r.state = to

	r.span.AddEvent("state_transition", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	slog.Debug("Turn state transition",
		"turn_id", r.req.TurnID, "from", from, "to", to, "detail", detail)

	r.h.writeback.RecordEvent(ctx, datatypes.EventLogEntry{
		Timestamp:      time.Now().UnixMilli(),
		TurnID:         r.req.TurnID,
		ConversationID: r.req.ConversationID,
		Stage:          stageForState(to),
		Outcome:        string(to),
		Detail:         detail,
	})
}

func stageForState(s TurnState) datatypes.Stage {
	switch s {
	case StateInit:
		return datatypes.StageIngress
	case StateGated:
		return datatypes.StageGatekeeper
	case StateRouted:
		return datatypes.StageRouter
	case StateEnforced:
		return datatypes.StageCanonOps
	case StateFinalized:
		return datatypes.StageWriteback
	default:
		return datatypes.StageResponder
	}
}

// fail ends the turn with an HTTP error. Only valid before the first SSE
// byte has been written.
func (r *turnRun) fail(ctx context.Context, stage string, err error) {
	r.transition(ctx, StateFailed, err.Error())
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.h.metrics.RecordError(stage, string(datatypes.CodeOf(err)))

	slog.Warn("Turn failed",
		"turn_id", r.req.TurnID, "stage", stage,
		"code", datatypes.CodeOf(err), "error", err)

	r.c.JSON(datatypes.HTTPStatus(err), gin.H{
		"error": datatypes.ClientMessage(err),
		"code":  datatypes.CodeOf(err),
	})
}

// =============================================================================
// Entry point
// =============================================================================

// HandleTurn runs one conversational turn.
//
// # Description
//
// Pipeline order is fixed: validate, gate, route, enforce, respond,
// write back, record taps. Tool gating errors return 401 with zero tools
// executed. Mode conflicts return 400 with zero upstream calls. The
// responder path is TOOL_LOOP when the effective state enables
// functions, STREAMING otherwise.
func (h *turnHandler) HandleTurn(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "TurnHandler.HandleTurn")
	defer span.End()

	run := &turnRun{
		h:     h,
		c:     c,
		state: StateInit,
		span:  span,
		start: time.Now(),
	}

	// Ingress validation. Unknown fields are rejected so a misspelled
	// tools key can never silently default.
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&run.req); err != nil {
		run.fail(ctx, "ingress", datatypes.NewValidationError("malformed turn request", err))
		return
	}
	if err := run.req.Validate(); err != nil {
		run.fail(ctx, "ingress", datatypes.NewValidationError("invalid turn request", err))
		return
	}

	span.SetAttributes(
		attribute.String("turn.id", run.req.TurnID),
		attribute.String("conversation.id", run.req.ConversationID),
		attribute.Int("turn.messages", len(run.req.Messages)),
	)

	// Gatekeeper. A denied function request fails the whole turn here,
	// before any tool object exists.
	effective, err := h.gate.Decide(run.req.Tools, middleware.GetEvidence(c))
	if err != nil {
		run.fail(ctx, "gatekeeper", err)
		return
	}
	run.effective = effective
	run.transition(ctx, StateGated, "")

	// Routing. Nothing upstream has been called yet, so a mode conflict
	// or unconfigured store costs zero external calls.
	plan, err := h.router.Plan(retrieval.SignalsFromHeader(c.Request.Header))
	if err != nil {
		run.fail(ctx, "router", err)
		return
	}
	run.plan = plan
	run.transition(ctx, StateRouted, string(plan.Mode))

	// Canon enforcement binds here. The per-turn search tool carries the
	// plan and the current overlay snapshot into every retrieval, so the
	// model cannot reach a store the plan excludes.
	run.search = tools.NewSearchTool(h.retriever, h.overlay, h.taps, plan, run.req.TurnID)
	run.transition(ctx, StateEnforced, "")

	if run.effective.Functions {
		run.path = observability.PathToolLoop
		h.runToolLoop(ctx, run)
	} else {
		run.path = observability.PathStreaming
		h.runStreaming(ctx, run)
	}
}

// =============================================================================
// Streaming path
// =============================================================================

// runStreaming answers without tool calling: optional pre-stream
// retrieval, then a single streamed generation through the relay.
func (h *turnHandler) runStreaming(ctx context.Context, run *turnRun) {
	run.transition(ctx, StateStreaming, "")

	last := run.req.LastUserMessage()
	if last == nil {
		run.fail(ctx, "responder", datatypes.NewValidationError("no user message in turn", nil))
		return
	}

	// A forced-mode header is an explicit grounding demand; it runs
	// pre-stream retrieval even when the search capability is off.
	var contextBlock string
	if run.effective.AnySearch() || run.plan.SearchFirst {
		results, err := h.searchWithRetry(ctx, run, last.Content)
		if err != nil {
			run.fail(ctx, "responder", err)
			return
		}
		contextBlock = renderContext(results)
	}

	acc, err := NewSecureTokenAccumulator()
	if err != nil {
		run.fail(ctx, "responder", datatypes.NewInternalError(err))
		return
	}
	defer acc.Destroy()

	messages := h.buildMessages(ctx, run, contextBlock)

	// Headers must be final before the first event flushes the status
	// line. Stores-used is known now because retrieval ran pre-stream.
	run.c.Writer.Header().Set("X-Stores-Used", strings.Join(run.search.StoresUsed(), ","))
	SetSSEHeaders(run.c.Writer)
	sse, err := NewSSEWriter(run.c.Writer)
	if err != nil {
		run.fail(ctx, "responder", datatypes.NewInternalError(err))
		return
	}

	h.metrics.StreamStarted(run.path)
	defer h.metrics.StreamEnded(run.path)
	h.recordStreamTap(ctx, run, datatypes.StreamTapStart, 0, "")

	_ = sse.WriteStatus("generating")
	if sources := run.search.Sources(); len(sources) > 0 {
		_ = sse.WriteSources(sources)
	}

	stopHeartbeat := startHeartbeat(sse)
	relay := NewRelay(acc, func(chunk string) error {
		if !run.firstToken {
			run.firstToken = true
			h.metrics.RecordTimeToFirstToken(run.path, time.Since(run.start).Seconds())
		}
		return sse.WriteToken(chunk)
	})

	streamErr := h.llm.ChatStream(ctx, messages, llm.GenerationParams{}, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			return relay.Write(ev.Content)
		case llm.StreamEventError:
			return fmt.Errorf("upstream stream error: %s", ev.Error)
		default:
			return nil
		}
	})
	stopHeartbeat()

	if streamErr != nil {
		// Mid-stream failure: the status line is gone, so the terminal
		// SSE error event is the only channel left.
		h.streamFail(ctx, run, sse, relay, streamErr)
		return
	}

	if err := relay.Flush(); err != nil {
		h.streamFail(ctx, run, sse, relay, err)
		return
	}

	h.finalize(ctx, run, sse, relay, acc)
}

// streamFail terminates an already-open SSE stream with an error event.
func (h *turnHandler) streamFail(ctx context.Context, run *turnRun, sse SSEWriter, relay *Relay, err error) {
	run.transition(ctx, StateFailed, err.Error())
	run.span.RecordError(err)
	run.span.SetStatus(codes.Error, err.Error())
	h.metrics.RecordError("responder", string(datatypes.CodeOf(err)))

	_ = sse.WriteError(datatypes.ClientMessage(datatypes.NewUpstreamError("generation failed", err)))
	h.recordStreamTap(ctx, run, datatypes.StreamTapError, relay.Chunks(), err.Error())
	h.metrics.RecordTurn(run.path, false)
	h.metrics.RecordTurnDuration(run.path, time.Since(run.start).Seconds(), false)

	slog.Error("Turn stream failed",
		"turn_id", run.req.TurnID, "path", run.path, "error", err)
}

// finalize closes out a successful stream: done event first, then
// writeback, then bookkeeping. Writeback runs strictly after the terminal
// event so a slow persist never stalls the client.
func (h *turnHandler) finalize(ctx context.Context, run *turnRun, sse SSEWriter, relay *Relay, acc TokenAccumulator) {
	raw, rawHash, err := acc.Finalize()
	if err != nil {
		h.streamFail(ctx, run, sse, relay, err)
		return
	}

	run.transition(ctx, StateFinalized, "")
	degraded := run.search.Degraded()

	_ = sse.WriteDone(run.req.TurnID, degraded)
	h.recordStreamTap(ctx, run, datatypes.StreamTapEnd, relay.Chunks(), "")

	ext := writeback.Extract(raw)
	h.writeback.Persist(ctx, run.req.ConversationID, run.req.TurnID, ext)

	run.transition(ctx, StateDone, "")
	h.metrics.RecordTurn(run.path, true)
	h.metrics.RecordTokens(run.path, relay.Chunks())
	h.metrics.RecordTurnDuration(run.path, time.Since(run.start).Seconds(), true)
	if degraded {
		h.metrics.RecordDegradedTurn()
	}

	slog.Info("Turn complete",
		"turn_id", run.req.TurnID,
		"path", run.path,
		"chunks", relay.Chunks(),
		"degraded", degraded,
		"raw_hash", rawHash[:16]+"...",
	)
}

// =============================================================================
// Tool loop path
// =============================================================================

// runToolLoop answers with function calling enabled.
//
// # Description
//
// The loop alternates model turns and tool barriers. Every tool call in
// an iteration is authorized before any of them runs; an unauthorized
// call fails the whole turn with 401 and zero executions. The loop is
// capped at MaxToolLoopIterations; exhaustion fails the turn without a
// partial answer. Because the SSE stream opens only for the final
// answer, every loop error still maps to a proper HTTP status.
func (h *turnHandler) runToolLoop(ctx context.Context, run *turnRun) {
	run.transition(ctx, StateToolLoop, "")

	registry := tools.New(append(append([]tools.Tool{}, h.static...), run.search)...)
	executor := tools.NewExecutor(registry, h.workers)
	defs := registry.Definitions(run.effective)

	messages := h.buildMessages(ctx, run, "")

	var final string
	var callsMade []string
	resolved := false

	for iter := 0; iter < MaxToolLoopIterations; iter++ {
		resp, err := h.llm.Chat(ctx, messages, defs, llm.GenerationParams{})
		if err != nil {
			run.fail(ctx, "responder", datatypes.NewUpstreamError("model call failed", err))
			return
		}

		if len(resp.ToolCalls) == 0 {
			final = resp.Content
			resolved = true
			break
		}

		messages = append(messages, llm.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		searchFirst := run.plan.SearchFirst && iter == 0
		results, err := executor.Run(ctx, resp.ToolCalls, run.effective, searchFirst)
		if err != nil {
			run.fail(ctx, "responder", err)
			return
		}

		for i, res := range results {
			callsMade = append(callsMade, resp.ToolCalls[i].Name)
			h.metrics.RecordToolCall(string(mustCapability(registry, resp.ToolCalls[i].Name)), true)
			messages = append(messages, res.Message())
		}
	}

	if !resolved {
		run.fail(ctx, "responder", datatypes.NewToolLoopExceededError(MaxToolLoopIterations))
		return
	}

	h.streamFinalAnswer(ctx, run, final, callsMade)
}

// streamFinalAnswer delivers the tool loop's answer over the same relay
// and SSE machinery the streaming path uses, so writeback stripping and
// the hash chain behave identically on both paths.
func (h *turnHandler) streamFinalAnswer(ctx context.Context, run *turnRun, final string, callsMade []string) {
	acc, err := NewSecureTokenAccumulator()
	if err != nil {
		run.fail(ctx, "responder", datatypes.NewInternalError(err))
		return
	}
	defer acc.Destroy()

	run.c.Writer.Header().Set("X-Stores-Used", strings.Join(run.search.StoresUsed(), ","))
	SetSSEHeaders(run.c.Writer)
	sse, err := NewSSEWriter(run.c.Writer)
	if err != nil {
		run.fail(ctx, "responder", datatypes.NewInternalError(err))
		return
	}

	h.metrics.StreamStarted(run.path)
	defer h.metrics.StreamEnded(run.path)
	h.recordStreamTap(ctx, run, datatypes.StreamTapStart, 0, "")

	_ = sse.WriteStatus(fmt.Sprintf("resolved after %d tool calls", len(callsMade)))
	if sources := run.search.Sources(); len(sources) > 0 {
		_ = sse.WriteSources(sources)
	}

	relay := NewRelay(acc, func(chunk string) error {
		if !run.firstToken {
			run.firstToken = true
			h.metrics.RecordTimeToFirstToken(run.path, time.Since(run.start).Seconds())
		}
		return sse.WriteToken(chunk)
	})

	if err := relay.Write(final); err != nil {
		h.streamFail(ctx, run, sse, relay, err)
		return
	}
	if err := relay.Flush(); err != nil {
		h.streamFail(ctx, run, sse, relay, err)
		return
	}

	h.finalize(ctx, run, sse, relay, acc)
}

// =============================================================================
// Helpers
// =============================================================================

// searchWithRetry runs the pre-stream retrieval with one retry.
// Retrieval is idempotent, so a transient store failure gets a second
// attempt before the turn fails.
func (h *turnHandler) searchWithRetry(ctx context.Context, run *turnRun, query string) ([]datatypes.RetrievedResult, error) {
	var lastErr error
	for attempt := 0; attempt <= retrievalRetries; attempt++ {
		results, _, _, err := run.search.Search(ctx, query)
		if err == nil {
			return results, nil
		}
		lastErr = err
		slog.Warn("Retrieval attempt failed",
			"turn_id", run.req.TurnID, "attempt", attempt, "error", err)
	}
	return nil, datatypes.NewUpstreamError("retrieval failed", lastErr)
}

// buildMessages assembles the model conversation: system prompt carrying
// the statepack digest and any retrieved context, then the turn history.
func (h *turnHandler) buildMessages(ctx context.Context, run *turnRun, contextBlock string) []llm.ChatMessage {
	var sys strings.Builder
	sys.WriteString("You are a careful assistant. Answer from the provided context when it is relevant.")

	if digest := h.writeback.Digest(ctx, run.req.ConversationID); digest != "" {
		sys.WriteString("\n\nConversation state:\n")
		sys.WriteString(digest)
	}
	if contextBlock != "" {
		sys.WriteString("\n\nRetrieved context:\n")
		sys.WriteString(contextBlock)
	}

	messages := make([]llm.ChatMessage, 0, len(run.req.Messages)+1)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: sys.String()})
	for _, m := range run.req.Messages {
		messages = append(messages, llm.ChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}
	return messages
}

// renderContext formats enforced retrieval results for the system prompt.
func renderContext(results []datatypes.RetrievedResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, res := range results {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "[%s] %s", res.SourceID, res.Content)
	}
	return b.String()
}

// recordStreamTap appends a stream lifecycle tap. Recorder failures are
// swallowed inside the recorder; taps never abort a turn.
func (h *turnHandler) recordStreamTap(ctx context.Context, run *turnRun, event datatypes.StreamTapEvent, tokens int, errMsg string) {
	h.taps.AppendStreamTap(ctx, datatypes.StreamTap{
		Timestamp:  time.Now().UnixMilli(),
		TurnID:     run.req.TurnID,
		Event:      event,
		TokenCount: tokens,
		Error:      errMsg,
	})
}

// startHeartbeat emits SSE keepalive comments until the returned stop
// function is called.
func startHeartbeat(sse SSEWriter) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sse.WriteKeepAlive(); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// mustCapability resolves a registered tool's capability for metrics.
func mustCapability(registry *tools.Registry, name string) tools.Capability {
	if t, ok := registry.Get(name); ok {
		return t.Capability()
	}
	return ""
}
