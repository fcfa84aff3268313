package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/turnloop/internal/checkpoint"
	"github.com/user/turnloop/internal/runtime"
	"github.com/user/turnloop/internal/state"
	"github.com/user/turnloop/internal/types"
	"github.com/user/turnloop/pkg/llm"
)

// Config wires a Gateway to its provider, tools and stores.
type Config struct {
	Provider      llm.Provider
	Registry      *runtime.Registry
	Conversations types.ConversationStore

	// Durable keeps the full message log and checkpoints. When nil,
	// conversations live in memory only and no checkpoints are created.
	Durable types.DurableStore

	// Summarizer defaults to an LLM summarizer over Provider.
	Summarizer    checkpoint.Summarizer
	Summarization types.SummarizationConfig
	Engine        runtime.Options

	MaxConcurrent int64
	Retry         *RetryPolicy
}

// Agent is the loaded state of one conversation: its engine (which owns the
// in-memory store) and its checkpoint scheduler.
type Agent struct {
	ID        types.ConversationID
	Key       types.ConversationKey
	Engine    *runtime.Engine
	Scheduler *checkpoint.Scheduler

	// persisted is the absolute count of messages the durable store holds.
	// Messages past it are written again after a failed persist.
	persisted int
}

// Gateway orchestrates inbound messages into runs. It resolves (or creates)
// conversations, wraps each message in a Run, and enqueues the run for
// processing. Runs of one conversation are processed in order.
type Gateway struct {
	cfg   Config
	Queue *Queue
	retry *RetryPolicy

	mu     sync.Mutex
	agents map[types.ConversationID]*Agent

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway. MaxConcurrent defaults to 2.
func New(cfg Config) (*Gateway, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("gateway requires a provider")
	}
	if cfg.Conversations == nil {
		return nil, fmt.Errorf("gateway requires a conversation store")
	}
	if err := cfg.Summarization.Validate(); err != nil {
		return nil, err
	}
	if cfg.Registry == nil {
		cfg.Registry = runtime.NewRegistry()
	}
	if cfg.Summarizer == nil {
		cfg.Summarizer = checkpoint.NewLLMSummarizer(cfg.Provider)
	}
	concurrency := cfg.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 2
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}

	g := &Gateway{
		cfg:    cfg,
		Queue:  NewQueue(concurrency),
		retry:  retry,
		agents: make(map[types.ConversationID]*Agent),
	}
	g.Queue.SetProcessor(g.process)
	return g, nil
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for
// in-flight runs to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked with the run's result.
func WithOnComplete(fn func(types.TurnResult)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// WithAttachments attaches rich content to the user message.
func WithAttachments(items ...types.ContentItem) RunOption {
	return func(r *Run) { r.Attachments = append(r.Attachments, items...) }
}

// WithResume turns the run into the answer of a paused UI tool call.
func WithResume(callID string) RunOption {
	return func(r *Run) { r.ResumeCallID = callID }
}

// HandleInbound resolves or creates the conversation for key, wraps text in
// a Run, and enqueues it for processing.
func (g *Gateway) HandleInbound(ctx context.Context, key types.ConversationKey, text string, opts ...RunOption) (*Run, error) {
	id, err := g.cfg.Conversations.ResolveOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	run := NewRun(id, key, text)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Agent returns the loaded agent for key, hydrating it from the durable
// store on first use.
func (g *Gateway) Agent(ctx context.Context, key types.ConversationKey) (*Agent, error) {
	id, err := g.cfg.Conversations.ResolveOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	return g.agent(ctx, id, key)
}

func (g *Gateway) agent(ctx context.Context, id types.ConversationID, key types.ConversationKey) (*Agent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.agents[id]; ok {
		return a, nil
	}

	a, err := g.hydrate(ctx, id, key)
	if err != nil {
		return nil, err
	}
	g.agents[id] = a
	return a, nil
}

// hydrate rebuilds a conversation from the durable store: the latest
// checkpoint stands in for everything before its UpToIndex and only later
// messages are loaded into memory.
func (g *Gateway) hydrate(ctx context.Context, id types.ConversationID, key types.ConversationKey) (*Agent, error) {
	var (
		latest *types.Checkpoint
		msgs   []types.Message
		offset int
		err    error
	)
	if g.cfg.Durable != nil {
		latest, err = g.cfg.Durable.LatestCheckpoint(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if latest != nil {
			offset = latest.UpToIndex
		}
		msgs, err = g.cfg.Durable.Messages(ctx, id, offset)
		if err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
	}

	scheduler, err := checkpoint.NewScheduler(g.cfg.Summarization, g.cfg.Summarizer, g.cfg.Durable, id, latest)
	if err != nil {
		return nil, err
	}

	opts := g.cfg.Engine
	opts.Checkpoint = scheduler.Latest
	store := state.NewMessageStore(offset, msgs...)

	slog.Debug("conversation loaded",
		"conversation_id", string(id),
		"offset", offset,
		"messages", len(msgs),
	)
	return &Agent{
		ID:        id,
		Key:       key,
		Engine:    runtime.New(g.cfg.Provider, g.cfg.Registry, store, opts),
		Scheduler: scheduler,
		persisted: store.AbsLen(),
	}, nil
}

// process executes one run: the turn itself, persistence of everything it
// appended, checkpointing, and the conversation index update.
func (g *Gateway) process(run *Run) (types.TurnResult, error) {
	ctx := run.Ctx
	agent, err := g.agent(ctx, run.ConversationID, run.Key)
	if err != nil {
		return types.TurnResult{}, err
	}

	store := agent.Engine.Store()

	var result types.TurnResult
	if run.ResumeCallID != "" {
		result = agent.Engine.Resume(ctx, run.ResumeCallID, run.Text, run.Attachments...)
	} else {
		result = agent.Engine.ExecuteTurn(ctx, run.Text, run.Attachments...)
	}

	// Failed turns still persist what they appended.
	caughtUp := g.persist(ctx, agent)
	if result.Success && caughtUp {
		// Failures leave the store untouched and are retried after the next turn.
		if _, err := agent.Scheduler.AfterTurn(ctx, store); err != nil {
			slog.Warn("checkpoint skipped", "conversation_id", string(run.ConversationID), "error", err)
		}
	}

	g.touch(ctx, run)
	slog.Info("run finished",
		"run_id", string(run.ID),
		"conversation_id", string(run.ConversationID),
		"success", result.Success,
		"rounds", result.ToolRoundsExecuted,
	)
	return result, nil
}

// persist writes every message the durable store does not hold yet,
// including those left over from earlier failed writes. It reports whether
// the durable log has caught up with the in-memory store, which is what
// makes truncation safe.
func (g *Gateway) persist(ctx context.Context, agent *Agent) bool {
	if g.cfg.Durable == nil {
		return false
	}
	store := agent.Engine.Store()
	msgs := store.Since(agent.persisted)
	if len(msgs) == 0 {
		return true
	}
	err := g.retry.Execute(ctx, func() error {
		return g.cfg.Durable.AppendMany(ctx, agent.ID, msgs)
	})
	if err != nil {
		slog.Error("persist messages failed",
			"conversation_id", string(agent.ID),
			"count", len(msgs),
			"behind", store.AbsLen()-agent.persisted,
			"error", err,
		)
		return false
	}
	agent.persisted += len(msgs)
	return agent.persisted == store.AbsLen()
}

func (g *Gateway) touch(ctx context.Context, run *Run) {
	conv, err := g.cfg.Conversations.Get(ctx, run.ConversationID)
	if err != nil {
		slog.Warn("conversation index lookup failed", "conversation_id", string(run.ConversationID), "error", err)
		return
	}
	conv.LastRunID = run.ID
	if err := g.cfg.Conversations.Update(ctx, conv); err != nil {
		slog.Warn("conversation index update failed", "conversation_id", string(run.ConversationID), "error", err)
	}
}
