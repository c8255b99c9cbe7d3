// Package pipeline implements the asynchronous email-processing
// pipeline: a background worker that drains the bounded queue of
// fetched messages and drives each one through dedup, persistence,
// reply generation, validation, and dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mailbot/internal/executor"
	"github.com/nhle/mailbot/internal/fingerprint"
	"github.com/nhle/mailbot/internal/llm"
	"github.com/nhle/mailbot/internal/mail"
	"github.com/nhle/mailbot/internal/model"
	"github.com/nhle/mailbot/internal/queue"
	"github.com/nhle/mailbot/internal/store"
)

// Executor context names. The fetch context serializes mailbox polls
// (periodic and manually triggered); the process context serializes the
// per-item protocol.
const (
	fetchContextName   = "pipeline.fetch"
	processContextName = "pipeline.process"
)

// dequeueWait is how long the drain loop blocks on an empty queue
// before re-checking the stop flag.
const dequeueWait = time.Second

// Options configures a pipeline worker.
type Options struct {
	Config    model.PipelineConfig
	LLM       model.LLMConfig
	Transport mail.Transport
	Generator llm.Generator
	Store     store.Store
	Executors *executor.Manager

	// Address is the service's own sender address, used to fingerprint
	// outbound replies.
	Address string

	Logger *zap.Logger
}

// QueueStatus is the queue-centric status view exposed to the API layer.
type QueueStatus struct {
	Size                int     `json:"size"`
	State               string  `json:"state"`
	Processing          bool    `json:"processing"`
	Processed           int64   `json:"processed"`
	Failed              int64   `json:"failed"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
}

// Worker is the pipeline state machine. It exclusively owns queue
// draining, the mail and model client handles, and outcome recording.
type Worker struct {
	cfg       model.PipelineConfig
	transport mail.Transport
	generator llm.Generator
	store     store.Store
	queue     *queue.Queue
	execs     *executor.Manager
	logger    *zap.Logger
	metrics   *Metrics
	admin     *Interpreter
	address   string

	mu         sync.Mutex
	state      State
	paused     bool
	processing bool
	llmCfg     model.LLMConfig
	health     model.ServiceHealth

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a stopped pipeline worker.
func NewWorker(opts Options) (*Worker, error) {
	if opts.Transport == nil || opts.Generator == nil || opts.Store == nil {
		return nil, errors.New("pipeline: transport, generator, and store are required")
	}
	if opts.Executors == nil {
		return nil, errors.New("pipeline: executor manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	capacity := opts.Config.QueueCapacity
	if capacity < 1 {
		capacity = queue.DefaultCapacity
	}
	q, err := queue.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("creating queue: %w", err)
	}

	w := &Worker{
		cfg:       opts.Config,
		transport: opts.Transport,
		generator: opts.Generator,
		store:     opts.Store,
		queue:     q,
		execs:     opts.Executors,
		logger:    opts.Logger,
		metrics:   NewMetrics(),
		address:   opts.Address,
		llmCfg:    opts.LLM,
		state:     StateStopped,
	}
	w.admin = NewInterpreter(w, opts.Logger)

	return w, nil
}

// Start launches the fetch and drain loops. It is an error to start a
// worker that is not stopped.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.state != StateStopped && w.state != StateError {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("pipeline: cannot start from state %s", state)
	}
	w.state = StateStarting
	w.paused = false
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	// Fail fast if the executor manager is already shut down.
	if _, err := w.execs.Context(fetchContextName); err != nil {
		w.setState(StateError)
		return fmt.Errorf("starting pipeline: %w", err)
	}
	if _, err := w.execs.Context(processContextName); err != nil {
		w.setState(StateError)
		return fmt.Errorf("starting pipeline: %w", err)
	}

	w.wg.Add(2)
	go w.fetchLoop()
	go w.drainLoop()

	w.setState(StateRunning)
	w.setRunning(true)
	w.logger.Info("pipeline worker started",
		zap.Int("queue_capacity", w.queue.Capacity()),
		zap.Int("poll_interval_sec", w.cfg.PollIntervalSec))
	return nil
}

// Stop requests a shutdown and waits for both loops to exit. The stop
// flag is observed between items: an in-flight item always runs its
// protocol to completion or failure first.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state != StateRunning && w.state != StatePaused && w.state != StateError {
		w.mu.Unlock()
		return
	}
	w.state = StateStopping
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()

	w.setState(StateStopped)
	w.setRunning(false)
	w.logger.Info("pipeline worker stopped")
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Metrics returns a snapshot of the rolling counters.
func (w *Worker) Metrics() MetricsSnapshot {
	return w.metrics.Snapshot()
}

// AdminHistory returns the bounded admin command history.
func (w *Worker) AdminHistory() []CommandResult {
	return w.admin.History()
}

// QueueStatus returns the queue-centric status view.
func (w *Worker) QueueStatus() QueueStatus {
	snap := w.metrics.Snapshot()

	w.mu.Lock()
	state := w.state
	processing := w.processing
	w.mu.Unlock()

	return QueueStatus{
		Size:                w.queue.Size(),
		State:               state.String(),
		Processing:          processing,
		Processed:           snap.Processed,
		Failed:              snap.Failed,
		AvgProcessingTimeMs: snap.AvgProcessingMs,
	}
}

// TriggerProcessingNow schedules an immediate mailbox poll on the fetch
// context. It is safe to call from any goroutine and does not wait for
// the poll to complete. There is no ordering guarantee between a
// triggered poll and the periodic one; both funnel into the same queue.
func (w *Worker) TriggerProcessingNow() error {
	c, err := w.execs.Context(fetchContextName)
	if err != nil {
		return err
	}

	_, err = c.Submit(func(ctx context.Context) (interface{}, error) {
		w.fetchOnce(ctx)
		return nil, nil
	})
	return err
}

// ResizeQueue changes the processing queue's capacity.
func (w *Worker) ResizeQueue(capacity int) error {
	return w.queue.Resize(capacity)
}

// --- Controls (admin interpreter surface) ---

// StatusReport summarizes the worker state for the admin status command.
func (w *Worker) StatusReport() string {
	snap := w.metrics.Snapshot()

	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	return fmt.Sprintf(
		"state=%s queue=%d processed=%d failed=%d sent=%d avg_ms=%.1f",
		state, w.queue.Size(), snap.Processed, snap.Failed, snap.Sent,
		snap.AvgProcessingMs,
	)
}

// Pause suspends item processing. Queued items are retained; the fetch
// loop keeps running so backpressure stays visible.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.paused = true
	if w.state == StateRunning {
		w.state = StatePaused
	}
}

// Resume restarts item processing after a pause.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.paused = false
	if w.state == StatePaused {
		w.state = StateRunning
	}
}

// AdjustTunable applies a runtime adjustment to the closed set of
// tunable generation parameters.
func (w *Worker) AdjustTunable(param model.TunableParam, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.llmCfg.Adjust(param, value)
}

// --- loops ---

// fetchLoop polls the mailbox on the configured interval. Every poll is
// submitted to the fetch executor context so periodic and manually
// triggered polls serialize.
func (w *Worker) fetchLoop() {
	defer w.wg.Done()

	interval := time.Duration(w.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial fetch immediately.
	w.submitFetch()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.submitFetch()
		}
	}
}

// submitFetch runs one poll on the fetch context and waits for it, so
// slow fetches do not pile up behind the ticker.
func (w *Worker) submitFetch() {
	c, err := w.execs.Context(fetchContextName)
	if err != nil {
		w.logger.Error("fetch context unavailable", zap.Error(err))
		return
	}

	f, err := c.Submit(func(ctx context.Context) (interface{}, error) {
		w.fetchOnce(ctx)
		return nil, nil
	})
	if err != nil {
		w.logger.Error("fetch submission rejected", zap.Error(err))
		return
	}

	select {
	case <-f.Done():
	case <-w.stopCh:
	}
}

// fetchOnce lists unseen messages and enqueues them. A full queue is a
// backpressure signal: remaining messages are left unseen on the server
// and picked up by a later poll.
func (w *Worker) fetchOnce(ctx context.Context) {
	fetchCtx, cancel := w.withTimeout(ctx, w.cfg.FetchTimeoutSec, 30)
	defer cancel()

	msgs, err := w.transport.FetchUnread(fetchCtx)
	w.metrics.RecordFetch(len(msgs), err)
	if err != nil {
		w.logger.Warn("mail fetch failed", zap.Error(err))
		w.setCollaboratorHealth(func(h *model.ServiceHealth) {
			h.MailOK = false
			h.LastError = err.Error()
		})
		return
	}

	w.setCollaboratorHealth(func(h *model.ServiceHealth) {
		h.MailOK = true
	})

	for _, msg := range msgs {
		if err := w.queue.Enqueue(msg); err != nil {
			w.logger.Warn("queue full, deferring remaining messages",
				zap.Int("queued", w.queue.Size()),
				zap.Uint32("uid", msg.UID))
			return
		}
	}

	if len(msgs) > 0 {
		w.logger.Debug("messages enqueued", zap.Int("count", len(msgs)))
	}
}

// drainLoop dequeues items and runs each one's protocol on the process
// executor context, strictly one at a time in FIFO order.
func (w *Worker) drainLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		if w.isPaused() {
			select {
			case <-w.stopCh:
				return
			case <-time.After(dequeueWait):
			}
			continue
		}

		item, ok := w.queue.Dequeue(dequeueWait)
		if !ok {
			continue
		}

		c, err := w.execs.Context(processContextName)
		if err != nil {
			w.logger.Error("process context unavailable, item dropped",
				zap.Error(err), zap.Uint32("uid", item.Msg.UID))
			continue
		}

		msg := item.Msg
		f, err := c.Submit(func(ctx context.Context) (interface{}, error) {
			w.processItem(ctx, msg)
			return nil, nil
		})
		if err != nil {
			w.logger.Error("process submission rejected", zap.Error(err))
			continue
		}

		// Wait for completion: the stop flag is only observed between
		// items, never mid-protocol.
		<-f.Done()
	}
}

// --- per-item protocol ---

// processItem runs the full per-item protocol and records the outcome.
func (w *Worker) processItem(ctx context.Context, msg model.RawMessage) {
	w.setProcessing(true)
	start := time.Now()

	err := w.runProtocol(ctx, msg)
	elapsed := time.Since(start)

	w.setProcessing(false)

	switch {
	case err == nil:
		w.metrics.RecordOutcome(Outcome{OK: true, Elapsed: elapsed})
	case errors.Is(err, ErrDuplicateMessage):
		// Benign no-op; neither a success nor a failure worth counting
		// against the pipeline.
		w.logger.Info("duplicate message skipped",
			zap.String("from", msg.From), zap.Uint32("uid", msg.UID))
	default:
		w.metrics.RecordOutcome(Outcome{OK: false, Elapsed: elapsed, Err: err})
		w.logger.Error("item processing failed",
			zap.String("from", msg.From),
			zap.Uint32("uid", msg.UID),
			zap.Error(err))
	}
}

// runProtocol executes the processing steps for one dequeued message.
func (w *Worker) runProtocol(ctx context.Context, msg model.RawMessage) error {
	// 1. Admin short-circuit: operator messages are commands, never
	// conversation.
	if w.cfg.AdminAddress != "" && msg.From == w.cfg.AdminAddress {
		return w.handleAdminMessage(ctx, msg)
	}

	// 2. Fingerprint and dedup.
	fp := fingerprint.New(msg.From, msg.Subject, msg.ReceivedAt, msg.Body)
	existing, err := w.store.FindByFingerprint(ctx, fp.String())
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		w.markProcessed(ctx, msg.UID)
		return ErrDuplicateMessage
	}

	// 3. Persist the inbound record before any generation attempt.
	inbound := model.ConversationMessage{
		ID:          uuid.NewString(),
		Fingerprint: fp.String(),
		From:        msg.From,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Direction:   model.DirectionIncoming,
		CreatedAt:   time.Now(),
	}
	if err := w.store.Add(ctx, inbound); err != nil {
		if errors.Is(err, store.ErrDuplicateFingerprint) {
			w.markProcessed(ctx, msg.UID)
			return ErrDuplicateMessage
		}
		return fmt.Errorf("persisting inbound: %w", err)
	}

	// 4-6. Generate and validate a reply draft.
	completion, err := w.generateReply(ctx, msg, inbound)
	if err != nil {
		w.notifyAdmin(ctx,
			"Reply generation failed",
			fmt.Sprintf("Message from %s (%q) could not be answered: %v",
				msg.From, msg.Subject, err))
		return err
	}

	// 7. Persist the outbound record before attempting delivery, so a
	// send failure is "recorded but undelivered", never data loss.
	replySubject := mail.ReplySubject(msg.Subject)
	now := time.Now()
	outboundFP := fingerprint.New(w.address, replySubject, now, completion.Content)

	outbound := model.ConversationMessage{
		ID:          uuid.NewString(),
		Fingerprint: outboundFP.String(),
		From:        w.address,
		To:          msg.From,
		Subject:     replySubject,
		Body:        completion.Content,
		Direction:   model.DirectionOutgoing,
		ThreadID:    inbound.ID,
		TokensUsed:  completion.TokensUsed,
		ModelID:     completion.ModelID,
		CreatedAt:   now,
	}
	if err := w.store.Add(ctx, outbound); err != nil {
		if errors.Is(err, store.ErrDuplicateFingerprint) {
			// Reply already recorded; never deliver it twice.
			w.markProcessed(ctx, msg.UID)
			return nil
		}
		return fmt.Errorf("persisting outbound: %w", err)
	}

	// 8. Dispatch with retry.
	if err := w.dispatchReply(ctx, msg, replySubject, completion.Content); err != nil {
		w.notifyAdmin(ctx,
			"Reply delivery failed",
			fmt.Sprintf("Reply to %s (%q) was recorded but not delivered: %v",
				msg.From, replySubject, err))
		return err
	}

	// 9 happens in processItem: outcome recording covers success and
	// failure alike.
	w.markProcessed(ctx, msg.UID)
	return nil
}

// handleAdminMessage runs the command interpreter and mails the result
// back to the operator, best-effort.
func (w *Worker) handleAdminMessage(ctx context.Context, msg model.RawMessage) error {
	result := w.admin.Interpret(msg)

	sendCtx, cancel := w.withTimeout(ctx, w.cfg.SendTimeoutSec, 30)
	defer cancel()

	if err := w.transport.Send(
		sendCtx, w.cfg.AdminAddress,
		mail.ReplySubject(msg.Subject),
		result.Response, msg.MessageID,
	); err != nil {
		w.logger.Warn("admin command response not delivered", zap.Error(err))
	}

	w.markProcessed(ctx, msg.UID)
	return nil
}

// generateReply assembles conversational context and generates a
// validated reply draft, retrying with backoff and re-generating once
// with adjusted parameters when the draft scores below the retry
// threshold.
func (w *Worker) generateReply(
	ctx context.Context, msg model.RawMessage, inbound model.ConversationMessage,
) (*llm.Completion, error) {
	prompt := w.buildPrompt(ctx, msg, inbound)

	w.mu.Lock()
	params := llm.Params{
		Temperature: w.llmCfg.Temperature,
		MaxTokens:   w.llmCfg.MaxTokens,
	}
	w.mu.Unlock()

	policy := w.retryPolicy()

	var completion *llm.Completion
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		genCtx, cancel := w.withTimeout(ctx, w.cfg.GenerateTimeoutSec, 60)
		defer cancel()

		var genErr error
		completion, genErr = w.generator.Generate(genCtx, prompt, params)
		return genErr
	})
	if err != nil {
		w.setCollaboratorHealth(func(h *model.ServiceHealth) {
			h.LLMOK = false
			h.LastError = err.Error()
		})
		return nil, &GenerationError{Attempts: attempts, Err: err}
	}

	w.setCollaboratorHealth(func(h *model.ServiceHealth) {
		h.LLMOK = true
	})

	// Validate; one bounded re-generation with a lower temperature when
	// the draft scores below the retry threshold. The better draft wins.
	result := ValidateReply(completion.Content, w.cfg.ValidScoreThreshold)
	if result.Score < w.cfg.RetryScoreThreshold {
		w.logger.Info("reply scored below retry threshold, regenerating",
			zap.Float64("score", result.Score),
			zap.Strings("issues", result.Issues))

		retryParams := params
		retryParams.Temperature = params.Temperature - 0.3
		if retryParams.Temperature < 0.1 {
			retryParams.Temperature = 0.1
		}

		genCtx, cancel := w.withTimeout(ctx, w.cfg.GenerateTimeoutSec, 60)
		second, retryErr := w.generator.Generate(genCtx, prompt, retryParams)
		cancel()

		if retryErr == nil {
			if retryResult := ValidateReply(second.Content, w.cfg.ValidScoreThreshold); retryResult.Score > result.Score {
				completion = second
				result = retryResult
			}
		}
	}

	w.metrics.RecordQuality(result.Score)
	return completion, nil
}

// buildPrompt turns recent conversation history with the sender into a
// generation prompt, oldest first, ending with the message being
// answered.
func (w *Worker) buildPrompt(
	ctx context.Context, msg model.RawMessage, inbound model.ConversationMessage,
) llm.Prompt {
	window := w.cfg.ContextWindow
	if window <= 0 {
		window = 10
	}

	prompt := llm.Prompt{
		System: "You are an email assistant answering on behalf of " +
			w.address + ". Reply to the sender's message helpfully and " +
			"concisely, in plain text suitable for email.",
	}

	// History lookup is best-effort: a failed query degrades the reply
	// context, not the pipeline.
	history, err := w.store.RecentConversation(ctx, msg.From, window)
	if err != nil {
		w.logger.Warn("context assembly failed", zap.Error(err))
	}

	// RecentConversation returns newest first; replay oldest first and
	// skip the inbound record persisted moments ago. Consecutive turns
	// with the same role are merged because the model API requires
	// alternation.
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h.Fingerprint == inbound.Fingerprint {
			continue
		}
		role := llm.RoleUser
		if h.Direction == model.DirectionOutgoing {
			role = llm.RoleAssistant
		}
		appendTurn(&prompt, role, h.Body)
	}

	// The first turn must be the user's; a window clipped mid-exchange
	// can start with a reply.
	if len(prompt.Messages) > 0 && prompt.Messages[0].Role == llm.RoleAssistant {
		prompt.Messages = prompt.Messages[1:]
	}

	appendTurn(&prompt, llm.RoleUser,
		fmt.Sprintf("Subject: %s\n\n%s", msg.Subject, msg.Body))

	return prompt
}

// appendTurn adds a prompt message, folding it into the previous turn
// when the roles match.
func appendTurn(prompt *llm.Prompt, role llm.Role, content string) {
	if n := len(prompt.Messages); n > 0 && prompt.Messages[n-1].Role == role {
		prompt.Messages[n-1].Content += "\n\n" + content
		return
	}
	prompt.Messages = append(prompt.Messages, llm.PromptMessage{
		Role:    role,
		Content: content,
	})
}

// dispatchReply sends the reply with the same bounded retry policy as
// generation.
func (w *Worker) dispatchReply(
	ctx context.Context, msg model.RawMessage, subject, body string,
) error {
	policy := w.retryPolicy()

	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		sendCtx, cancel := w.withTimeout(ctx, w.cfg.SendTimeoutSec, 30)
		defer cancel()
		return w.transport.Send(sendCtx, msg.From, subject, body, msg.MessageID)
	})
	w.metrics.RecordSend(err)
	if err != nil {
		w.setCollaboratorHealth(func(h *model.ServiceHealth) {
			h.MailOK = false
			h.LastError = err.Error()
		})
		return &DeliveryError{Attempts: attempts, Err: err}
	}

	return nil
}

// notifyAdmin mails an error report to the operator address. Failure to
// notify is logged, never escalated.
func (w *Worker) notifyAdmin(ctx context.Context, subject, body string) {
	if w.cfg.AdminAddress == "" {
		return
	}

	sendCtx, cancel := w.withTimeout(ctx, w.cfg.SendTimeoutSec, 30)
	defer cancel()

	if err := w.transport.Send(sendCtx, w.cfg.AdminAddress, subject, body, ""); err != nil {
		w.logger.Warn("admin notification failed",
			zap.String("subject", subject), zap.Error(err))
	}
}

// markProcessed flags the message on the server, best-effort.
func (w *Worker) markProcessed(ctx context.Context, uid uint32) {
	if uid == 0 {
		return
	}
	if err := w.transport.MarkProcessed(ctx, uid); err != nil {
		w.logger.Warn("failed to mark message processed",
			zap.Uint32("uid", uid), zap.Error(err))
	}
}

// --- helpers ---

func (w *Worker) retryPolicy() RetryPolicy {
	attempts := w.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	base := time.Duration(w.cfg.BackoffBaseMs) * time.Millisecond
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return RetryPolicy{MaxAttempts: attempts, Base: base}
}

func (w *Worker) withTimeout(
	ctx context.Context, seconds, fallback int,
) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		seconds = fallback
	}
	return context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
}

func (w *Worker) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

func (w *Worker) setProcessing(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processing = v
}

func (w *Worker) setRunning(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.health.Running = v
}

func (w *Worker) setCollaboratorHealth(update func(*model.ServiceHealth)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	update(&w.health)
}
