package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailbot/internal/model"
)

// probeTimeout bounds each individual collaborator liveness probe.
const probeTimeout = 10 * time.Second

// CheckHealth probes each collaborator concurrently and returns the
// updated service health. A single flaky collaborator only degrades its
// own flag; the reconnect-all path (a second probe round) runs only
// when every collaborator appears down at once, which avoids reconnect
// storms.
func (w *Worker) CheckHealth(ctx context.Context) model.ServiceHealth {
	mailOK, llmOK, storeOK, firstErr := w.probeAll(ctx)

	if !mailOK && !llmOK && !storeOK {
		w.logger.Warn("all collaborators down, attempting reconnect",
			zap.Error(firstErr))
		mailOK, llmOK, storeOK, firstErr = w.probeAll(ctx)
	}

	allOK := mailOK && llmOK && storeOK

	w.mu.Lock()
	w.health.MailOK = mailOK
	w.health.LLMOK = llmOK
	w.health.StoreOK = storeOK
	if firstErr != nil {
		w.health.LastError = firstErr.Error()
	}
	if allOK {
		w.health.LastCheck = time.Now()
		w.health.LastError = ""
	}

	// Recovery path: a worker stuck in the error state returns to
	// running once its collaborators answer again.
	switch {
	case allOK && w.state == StateError:
		w.state = StateRecovering
		w.logger.Info("collaborators reachable again, recovering")
		w.state = StateRunning
	case !mailOK && !llmOK && !storeOK &&
		(w.state == StateRunning || w.state == StatePaused):
		w.state = StateError
		w.logger.Error("entering error state: all collaborators unreachable")
	}

	health := w.health
	w.mu.Unlock()

	return health
}

// Health returns the last recorded health without probing.
func (w *Worker) Health() model.ServiceHealth {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.health
}

// probeAll runs the three collaborator probes concurrently. Probes are
// lightweight noop-style checks, not full reconnects.
func (w *Worker) probeAll(ctx context.Context) (mailOK, llmOK, storeOK bool, firstErr error) {
	var mailErr, llmErr, storeErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		probeCtx, cancel := context.WithTimeout(gctx, probeTimeout)
		defer cancel()
		mailErr = w.transport.ConnectivityCheck(probeCtx)
		return nil
	})
	g.Go(func() error {
		probeCtx, cancel := context.WithTimeout(gctx, probeTimeout)
		defer cancel()
		llmErr = w.generator.ConnectivityCheck(probeCtx)
		return nil
	})
	g.Go(func() error {
		probeCtx, cancel := context.WithTimeout(gctx, probeTimeout)
		defer cancel()
		storeErr = w.store.Ping(probeCtx)
		return nil
	})

	// Probe goroutines always return nil; failures land in the
	// per-collaborator error slots.
	_ = g.Wait()

	switch {
	case mailErr != nil:
		firstErr = &CollaboratorError{Collaborator: "mail", Err: mailErr}
	case llmErr != nil:
		firstErr = &CollaboratorError{Collaborator: "llm", Err: llmErr}
	case storeErr != nil:
		firstErr = &CollaboratorError{Collaborator: "store", Err: storeErr}
	}

	return mailErr == nil, llmErr == nil, storeErr == nil, firstErr
}
