// Package agent runs one conversational turn: it builds the model context,
// lets the model call tools until it answers, and checks the answer
// against what the tools actually did.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/servicedesk_bot/backend/internal/ai"
	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/integrity"
	"github.com/servicedesk_bot/backend/internal/metrics"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/tools"
)

const DefaultMaxIterations = 20

var (
	ErrIterationLimit = errors.New("agent exceeded the iteration limit")
	ErrEmptyReply     = errors.New("model returned an empty reply")
)

// ToolRunner is the part of the tool registry the orchestrator uses.
type ToolRunner interface {
	Specs() []ai.ToolSpec
	Invoke(ctx context.Context, chatID int64, name string, args json.RawMessage) (tools.Result, error)
}

type TurnInput struct {
	ChatID  int64
	Message string
	History []models.ChatMessage
	Draft   models.DraftRequest
	Tickets []models.TicketRef
	// Notes are extra internal instructions appended to the system prompt.
	Notes []string
}

type TurnResult struct {
	Reply     string
	Trace     models.ToolTrace
	Signals   []tools.Signal
	Corrected bool

	// selected carries request_selection success into a corrective re-run.
	selected bool
}

// HasSignal reports whether any tool of the turn raised s.
func (r TurnResult) HasSignal(s tools.Signal) bool {
	for _, v := range r.Signals {
		if v == s {
			return true
		}
	}
	return false
}

type Orchestrator struct {
	Tools         ToolRunner
	Policy        *InvokePolicy
	Checker       integrity.Checker
	Drafts        SnapshotReader
	Catalog       *config.CatalogHolder
	MaxIterations int
	Logger        zerolog.Logger
	Tracer        trace.Tracer
	Now           func() time.Time
}

func NewOrchestrator(runner ToolRunner, policy *InvokePolicy, catalog *config.CatalogHolder, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Tools:         runner,
		Policy:        policy,
		Checker:       integrity.TraceConsistencyChecker{},
		Catalog:       catalog,
		MaxIterations: DefaultMaxIterations,
		Logger:        logger,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Orchestrator) tracer() trace.Tracer {
	if o.Tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return o.Tracer
}

// RunTurn answers one user message. A reply that claims an action the
// trace does not show gets exactly one corrective re-run; the corrected
// result is returned whatever it says.
func (o *Orchestrator) RunTurn(ctx context.Context, in TurnInput) (TurnResult, error) {
	ctx, span := o.tracer().Start(ctx, "agent.turn", trace.WithAttributes(attribute.Int64("chat.id", in.ChatID)))
	defer span.End()

	res, err := o.run(ctx, in, &turnState{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveTurn(turnOutcome(err))
		return res, err
	}

	if o.Checker != nil {
		if verdict := o.Checker.Check(res.Reply, res.Trace); !verdict.Consistent {
			res, err = o.correct(ctx, in, res, verdict)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				metrics.ObserveTurn(turnOutcome(err))
				return res, err
			}
		}
	}
	span.SetAttributes(
		attribute.Int("agent.tool_calls", len(res.Trace)),
		attribute.Bool("agent.corrected", res.Corrected),
	)
	metrics.ObserveTurn("reply")
	return res, nil
}

func turnOutcome(err error) string {
	if errors.Is(err, ErrModelUnavailable) {
		return "apology"
	}
	return "error"
}

// turnState tracks what the current turn has already established.
type turnState struct {
	trace   models.ToolTrace
	signals []tools.Signal
	// selected is set once request_selection succeeded; the ticket
	// numbers are then in the conversation.
	selected bool
}

// run drives the model loop on top of st, which may carry state from an
// earlier pass of the same turn.
func (o *Orchestrator) run(ctx context.Context, in TurnInput, st *turnState) (TurnResult, error) {
	system, err := renderSystemPrompt(o.Catalog.Get(), in, o.now())
	if err != nil {
		return TurnResult{}, fmt.Errorf("render system prompt: %w", err)
	}
	msgs := buildMessages(system, in)
	specs := o.Tools.Specs()

	maxIter := o.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return st.result(""), err
		}
		resp, err := o.Policy.Invoke(ctx, ai.Request{Messages: msgs, Tools: specs})
		if err != nil {
			return st.result(""), err
		}
		if len(resp.ToolCalls) == 0 {
			reply := strings.TrimSpace(resp.Content)
			if reply == "" {
				return st.result(""), ErrEmptyReply
			}
			o.Logger.Debug().Int64("chat_id", in.ChatID).Int("iterations", iter+1).
				Strs("tools", st.trace.Names()).Msg("turn finished")
			return st.result(reply), nil
		}

		msgs = append(msgs, ai.Message{Role: ai.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			res, err := o.execute(ctx, in.ChatID, call, st)
			if err != nil {
				return st.result(""), fmt.Errorf("tool %s: %w", call.Name, err)
			}
			msgs = append(msgs, ai.Message{Role: ai.RoleTool, Content: res.Text, ToolCallID: call.ID, Name: call.Name})
		}
	}
	o.Logger.Warn().Int64("chat_id", in.ChatID).Int("max_iterations", maxIter).Strs("tools", st.trace.Names()).Msg("iteration limit reached")
	return st.result(""), ErrIterationLimit
}

func (st *turnState) result(reply string) TurnResult {
	return TurnResult{Reply: reply, Trace: st.trace, Signals: st.signals, selected: st.selected}
}

const repeatedSelectionText = "request_selection уже был вызван, номер заявки известен. Повторно не вызывайте, используйте modify_request с известным номером."

// execute runs one tool call exactly once and records it in the trace.
func (o *Orchestrator) execute(ctx context.Context, chatID int64, call ai.ToolCall, st *turnState) (tools.Result, error) {
	ctx, span := o.tracer().Start(ctx, "agent.tool", trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	if call.Name == tools.RequestSelection && st.selected {
		res := tools.Result{Text: repeatedSelectionText, Failed: true}
		st.record(call, res)
		metrics.ObserveTool(call.Name, "rejected")
		span.SetAttributes(attribute.Bool("tool.rejected", true))
		return res, nil
	}

	res, err := o.Tools.Invoke(ctx, chatID, call.Name, call.Arguments)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveTool(call.Name, "error")
		o.Logger.Error().Err(err).Int64("chat_id", chatID).Str("tool", call.Name).Msg("tool failed the turn")
		st.record(call, tools.Result{Text: err.Error(), Failed: true})
		return res, err
	}

	outcome := "ok"
	if res.Failed {
		outcome = "failed"
	}
	metrics.ObserveTool(call.Name, outcome)
	span.SetAttributes(attribute.Bool("tool.failed", res.Failed))
	st.record(call, res)
	if res.Signal != tools.SignalNone {
		st.signals = append(st.signals, res.Signal)
	}
	if !res.Failed {
		switch call.Name {
		case tools.RequestSelection:
			st.selected = true
		case tools.CreateRequest:
			metrics.TicketCreated()
		}
	}
	return res, nil
}

func (st *turnState) record(call ai.ToolCall, res tools.Result) {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	st.trace = append(st.trace, models.ToolInvocation{Name: call.Name, Arguments: args, Result: res.Text, Failed: res.Failed})
}
