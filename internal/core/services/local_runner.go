package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"grainery.core/internal/core/domain"
	"grainery.core/internal/core/logger"
	"grainery.core/internal/core/ports"
)

// localTarget runs a batch job on the device itself: one cooperative work
// loop walking the item list, resolving source bytes through the resource
// cache and invoking the local executor for render jobs. Pause/resume is
// not supported on this target; cancel stops the loop before returning.
type localTarget struct {
	exec      ports.LocalExecutor
	resolver  ports.ResourceResolver
	kind      domain.JobKind
	items     []domain.ItemRef
	params    domain.OperationParams
	outputDir string

	mu   sync.Mutex
	prog domain.Progress

	cancel context.CancelFunc
	done   chan struct{}
}

func newLocalTarget(
	exec ports.LocalExecutor,
	resolver ports.ResourceResolver,
	spec domain.JobSpec,
	outputDir string,
) *localTarget {
	return &localTarget{
		exec:      exec,
		resolver:  resolver,
		kind:      spec.Kind,
		items:     spec.Items,
		outputDir: outputDir,
		params: domain.OperationParams{
			Options: map[string]any{"params_source": spec.ParamsSource},
		},
		prog: domain.Progress{
			Status: domain.JobStatusProcessing,
			Total:  len(spec.Items),
		},
		done: make(chan struct{}),
	}
}

func (t *localTarget) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.run(loopCtx)
	return nil
}

func (t *localTarget) run(ctx context.Context) {
	defer close(t.done)

	for _, item := range t.items {
		if ctx.Err() != nil {
			break
		}
		t.setCurrent(item)

		err := t.processItem(ctx, item)
		if ctx.Err() != nil {
			// The aborted item is neither completed nor failed.
			break
		}
		if err != nil {
			if errors.Is(err, domain.ErrLocalExecutorUnavailable) {
				// The pipeline itself is broken, not this one item.
				t.finish(domain.JobStatusFailed, err.Error())
				return
			}
			t.recordFailure(item, err)
			continue
		}
		t.recordSuccess()
	}

	if ctx.Err() != nil {
		t.finish(domain.JobStatusCancelled, "cancelled on device")
		return
	}
	// Partial item failures with a healthy pipeline still complete; the
	// failed items travel with the snapshot.
	t.finish(domain.JobStatusCompleted, "")
}

func (t *localTarget) processItem(ctx context.Context, item domain.ItemRef) error {
	source, err := t.resolver.Resolve(ctx, domain.Locator(item))
	if err != nil {
		return err
	}

	payload := source
	if t.kind == domain.JobKindRender {
		params := t.params
		params.Source = domain.Locator(item)
		payload, err = t.exec.Process(ctx, domain.OperationRender, params, source)
		if err != nil {
			return err
		}
	}

	if t.outputDir == "" {
		return nil
	}
	return t.writeOutput(item, payload)
}

func (t *localTarget) writeOutput(item domain.ItemRef, payload []byte) error {
	if err := os.MkdirAll(t.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	name := path.Base(string(item))
	dst := filepath.Join(t.outputDir, name)
	if err := os.WriteFile(dst, payload, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	logger.Debug("wrote batch output", "item", item, "path", dst)
	return nil
}

func (t *localTarget) Poll(ctx context.Context) (domain.Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prog := t.prog
	prog.FailedItems = append([]domain.FailedItem(nil), t.prog.FailedItems...)
	return prog, nil
}

func (t *localTarget) Supports(ctl domain.Control) bool {
	return ctl == domain.ControlCancel
}

func (t *localTarget) Control(ctx context.Context, ctl domain.Control) error {
	if ctl != domain.ControlCancel {
		return domain.ErrUnsupportedControl
	}
	t.cancel()
	// The work loop must be stopped before control returns.
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *localTarget) setCurrent(item domain.ItemRef) {
	t.mu.Lock()
	t.prog.Current = item
	t.mu.Unlock()
}

func (t *localTarget) recordSuccess() {
	t.mu.Lock()
	t.prog.Completed++
	t.prog.Current = ""
	t.mu.Unlock()
}

func (t *localTarget) recordFailure(item domain.ItemRef, err error) {
	t.mu.Lock()
	t.prog.Failed++
	t.prog.Current = ""
	t.prog.FailedItems = append(t.prog.FailedItems, domain.FailedItem{
		Item:  item,
		Error: err.Error(),
	})
	t.mu.Unlock()
}

func (t *localTarget) finish(status domain.JobStatus, reason string) {
	t.mu.Lock()
	if !t.prog.Status.Terminal() {
		t.prog.Status = status
		t.prog.Reason = reason
	}
	t.prog.Current = ""
	t.mu.Unlock()
}
