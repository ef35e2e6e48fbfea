package runloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/stromboli/pkg/agui"
	"github.com/go-go-golems/stromboli/pkg/llm"
	"github.com/go-go-golems/stromboli/pkg/toolprovider"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSystemPrompt mirrors the instruction the bridge gives the model
// before the user prompt.
const DefaultSystemPrompt = "You are a precise tool-using agent. " +
	"When a tool is relevant, call it with minimal arguments. " +
	"Prefer concise answers. Avoid leaking secrets."

// Run identifies one execution of the loop. Identifiers are generated fresh
// per request and never reused.
type Run struct {
	ThreadID  string
	RunID     string
	MessageID string
}

func NewRun() Run {
	return Run{
		ThreadID:  fmt.Sprintf("thread_%x", uuid.New()),
		RunID:     fmt.Sprintf("run_%x", uuid.New()),
		MessageID: fmt.Sprintf("msg_%x", uuid.New()),
	}
}

// Config holds loop configuration.
type Config struct {
	SystemPrompt string

	// MaxToolRounds caps the number of decide/execute rounds per run.
	// Zero or negative means no cap.
	MaxToolRounds int

	Normalizer toolprovider.Normalizer
}

func NewConfig() Config {
	return Config{
		SystemPrompt:  DefaultSystemPrompt,
		MaxToolRounds: 10,
		Normalizer:    toolprovider.NewNormalizer(),
	}
}

func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

func (c Config) WithMaxToolRounds(rounds int) Config {
	c.MaxToolRounds = rounds
	return c
}

func (c Config) WithNormalizer(n toolprovider.Normalizer) Config {
	c.Normalizer = n
	return c
}

// Loop drives the decide/execute/feed-back cycle for one run and converts
// every step into AG-UI events. A Loop instance holds no per-run state and
// may serve sequential runs; each RunLoop call owns its conversation state
// exclusively.
type Loop struct {
	eng      llm.Engine
	provider toolprovider.Provider
	sink     agui.EventSink
	cfg      Config
}

type Option func(*Loop)

func New(opts ...Option) *Loop {
	l := &Loop{
		sink: agui.NullSink{},
		cfg:  NewConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func WithEngine(eng llm.Engine) Option {
	return func(l *Loop) { l.eng = eng }
}

func WithProvider(provider toolprovider.Provider) Option {
	return func(l *Loop) { l.provider = provider }
}

func WithSink(sink agui.EventSink) Option {
	return func(l *Loop) { l.sink = sink }
}

func WithConfig(cfg Config) Option {
	return func(l *Loop) { l.cfg = cfg }
}

// RunLoop executes one run. The emitted event sequence always starts with
// RUN_STARTED / TEXT_MESSAGE_START and terminates in exactly one of
// TEXT_MESSAGE_END + RUN_FINISHED or RUN_ERROR, never both, never neither.
// The returned error mirrors the RUN_ERROR terminal when one was emitted.
func (l *Loop) RunLoop(ctx context.Context, run Run, prompt string) error {
	if l.eng == nil {
		return l.fail(errors.New("run loop engine is nil"))
	}
	if l.provider == nil {
		return l.fail(errors.New("run loop tool provider is nil"))
	}

	logger := log.With().Str("run_id", run.RunID).Str("thread_id", run.ThreadID).Logger()
	logger.Debug().Int("max_tool_rounds", l.cfg.MaxToolRounds).Msg("runloop: starting run")

	l.emit(agui.NewRunStartedEvent(run.ThreadID, run.RunID))
	l.emit(agui.NewTextMessageStartEvent(run.MessageID))

	tools, err := l.provider.ListTools(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("runloop: tool discovery failed")
		return l.fail(errors.Wrap(err, "tool discovery"))
	}
	logger.Debug().Int("tool_count", len(tools)).Msg("runloop: discovered tools")

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: l.cfg.SystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("The user says: %q", prompt)},
	}

	for round := 0; ; round++ {
		logger.Debug().Int("round", round+1).Msg("runloop: decision step")
		decision, err := l.eng.Decide(ctx, messages, tools)
		if err != nil {
			logger.Error().Err(err).Int("round", round+1).Msg("runloop: decision call failed")
			return l.fail(errors.Wrap(err, "decision call"))
		}

		if decision.WantsTools() {
			if l.cfg.MaxToolRounds > 0 && round >= l.cfg.MaxToolRounds {
				logger.Warn().Int("max_tool_rounds", l.cfg.MaxToolRounds).Msg("runloop: tool-use round limit exceeded")
				return l.fail(errors.Errorf("tool-use round limit exceeded (%d)", l.cfg.MaxToolRounds))
			}
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   decision.Content,
				ToolCalls: decision.ToolCalls,
			})
			messages = l.executeTools(ctx, logger, run, decision.ToolCalls, messages)
			continue
		}

		// No tool calls: stream the final answer with tool use disabled.
		err = l.eng.StreamAnswer(ctx, messages, tools, func(delta string) error {
			return l.sink.PublishEvent(agui.NewTextMessageContentEvent(run.MessageID, delta))
		})
		if err != nil {
			logger.Error().Err(err).Msg("runloop: answer delivery failed")
			return l.fail(errors.Wrap(err, "answer delivery"))
		}

		l.emit(agui.NewTextMessageEndEvent(run.MessageID))
		l.emit(agui.NewRunFinishedEvent(run.ThreadID, run.RunID))
		logger.Debug().Int("rounds", round+1).Msg("runloop: run finished")
		return nil
	}
}

// executeTools processes one decision batch strictly in the order the model
// returned it: result order determines conversation state order, which the
// model sees on the next round.
func (l *Loop) executeTools(ctx context.Context, logger zerolog.Logger, run Run, calls []llm.ToolCall, messages []llm.Message) []llm.Message {
	for _, call := range calls {
		arguments := map[string]interface{}{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &arguments); err != nil {
				logger.Warn().Err(err).Str("tool", call.Name).Msg("runloop: malformed tool arguments, continuing with empty arguments")
				arguments = map[string]interface{}{}
				l.emit(agui.NewRunWarningEvent(fmt.Sprintf("Malformed tool arguments for %s", call.Name)))
			}
		}

		l.emit(agui.NewToolCallStartEvent(call.ID, call.Name))

		argsJSON, err := json.Marshal(arguments)
		if err != nil {
			argsJSON = []byte("{}")
		}
		l.emit(agui.NewToolCallArgsEvent(call.ID, string(argsJSON)))

		var content string
		result, err := l.provider.CallTool(ctx, call.Name, arguments)
		if err != nil {
			// Tool execution failure is not fatal: the model gets the
			// error text as the result and can react to it.
			logger.Warn().Err(err).Str("tool", call.Name).Str("tool_call_id", call.ID).Msg("runloop: tool execution failed, feeding error back to model")
			content = l.cfg.Normalizer.NormalizeError(call.Name, err)
		} else {
			content = l.cfg.Normalizer.Normalize(result)
		}

		l.emit(agui.NewToolCallResultEvent(run.MessageID, call.ID, content))

		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    content,
		})
	}
	return messages
}

// fail emits the terminal error event and hands the error back to the caller.
func (l *Loop) fail(err error) error {
	l.emit(agui.NewRunErrorEvent(err))
	return err
}

// emit publishes best-effort: a sink failure must not tear down the run.
func (l *Loop) emit(event agui.Event) {
	if err := l.sink.PublishEvent(event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("runloop: failed to publish event to sink")
	}
}
