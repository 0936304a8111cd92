package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"grainery.core/internal/core/domain"
	"grainery.core/internal/core/logger"
	"grainery.core/internal/core/ports"
)

// NotifyFunc receives job snapshots as they change, for UI push.
type NotifyFunc func(domain.Job)

// JobController owns every live batch job: it validates submissions, picks
// the initial execution target, drives the polling loop, answers snapshot
// reads and forwards control requests. A job keeps its submit-time target
// for its entire lifetime.
type JobController struct {
	dispatcher *Dispatcher
	batch      ports.BatchService
	executor   ports.LocalExecutor
	resolver   ports.ResourceResolver
	archive    ports.JobArchive // optional
	policy     PollPolicy
	notify     NotifyFunc // optional
	now        func() time.Time

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	mu       sync.Mutex
	job      domain.Job
	target   executionTarget
	stopPoll context.CancelFunc
}

func NewJobController(
	dispatcher *Dispatcher,
	batch ports.BatchService,
	executor ports.LocalExecutor,
	resolver ports.ResourceResolver,
	archive ports.JobArchive,
	policy PollPolicy,
	notify NotifyFunc,
) *JobController {
	return &JobController{
		dispatcher: dispatcher,
		batch:      batch,
		executor:   executor,
		resolver:   resolver,
		archive:    archive,
		policy:     policy.withDefaults(),
		notify:     notify,
		now:        time.Now,
		jobs:       make(map[string]*jobEntry),
	}
}

// Submit validates the batch spec, picks the execution target and returns
// the initial snapshot. It never blocks for the job's duration; remote
// submission performs only the enqueue round trip.
func (c *JobController) Submit(ctx context.Context, spec domain.JobSpec) (domain.Job, error) {
	outputDir, err := validateSpec(spec)
	if err != nil {
		return domain.Job{}, err
	}

	target, decision, err := c.pickTarget(ctx, spec)
	if err != nil {
		return domain.Job{}, err
	}

	var exec executionTarget
	switch target {
	case domain.TargetRemote:
		remoteID, err := c.batch.SubmitBatch(ctx, spec)
		if err != nil {
			return domain.Job{}, fmt.Errorf("submitting batch to server: %w", err)
		}
		exec = newRemoteTarget(c.batch, remoteID)
	case domain.TargetLocal:
		exec = newLocalTarget(c.executor, c.resolver, spec, outputDir)
	}

	handle := fmt.Sprintf("job-%s", uuid.New().String())
	now := c.now()
	entry := &jobEntry{
		job: domain.Job{
			Handle:    handle,
			Kind:      spec.Kind,
			Status:    domain.JobStatusProcessing,
			Target:    target,
			Total:     len(spec.Items),
			CreatedAt: now,
			UpdatedAt: now,
		},
		target: exec,
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	entry.stopPoll = cancel

	if err := exec.Start(pollCtx); err != nil {
		cancel()
		return domain.Job{}, fmt.Errorf("starting %s execution: %w", target, err)
	}

	c.mu.Lock()
	c.jobs[handle] = entry
	c.mu.Unlock()

	go NewPoller(c.policy).Run(pollCtx, func(ctx context.Context) (bool, error) {
		return c.check(ctx, entry)
	})

	logger.WithJob(handle).Info("job submitted",
		"kind", spec.Kind, "target", target, "decision", decision.SourceOfTruth,
		"total", len(spec.Items))

	c.publish(entry.snapshot())
	return entry.snapshot(), nil
}

func (c *JobController) pickTarget(ctx context.Context, spec domain.JobSpec) (domain.DispatchTarget, domain.DispatchDecision, error) {
	var decision domain.DispatchDecision
	switch spec.Execution {
	case domain.ExecutionRemote:
		decision = domain.DispatchDecision{Target: domain.TargetRemote, SourceOfTruth: domain.DecisionCapability}
	case domain.ExecutionLocal:
		decision = domain.DispatchDecision{Target: domain.TargetLocal, SourceOfTruth: domain.DecisionCapability}
	default:
		decision = c.dispatcher.Decide(ctx)
	}
	if decision.Target == domain.TargetLocal && c.executor == nil {
		return "", decision, domain.ErrLocalExecutorUnavailable
	}
	return decision.Target, decision, nil
}

func validateSpec(spec domain.JobSpec) (outputDir string, err error) {
	switch spec.Kind {
	case domain.JobKindRender, domain.JobKindDownload:
	default:
		return "", fmt.Errorf("%w: unknown kind %q", domain.ErrJobSubmissionInvalid, spec.Kind)
	}
	switch spec.Scope {
	case domain.ScopeRoll, domain.ScopeSelection:
	default:
		return "", fmt.Errorf("%w: unknown scope %q", domain.ErrJobSubmissionInvalid, spec.Scope)
	}
	if len(spec.Items) == 0 {
		return "", fmt.Errorf("%w: empty item set", domain.ErrJobSubmissionInvalid)
	}

	if spec.Kind == domain.JobKindRender && len(spec.OutputConfig) == 0 {
		return "", fmt.Errorf("%w: render jobs require an output configuration", domain.ErrJobSubmissionInvalid)
	}
	if len(spec.OutputConfig) > 0 {
		var cfg map[string]any
		if err := yaml.Unmarshal(spec.OutputConfig, &cfg); err != nil {
			return "", fmt.Errorf("%w: output configuration: %v", domain.ErrJobSubmissionInvalid, err)
		}
		if len(cfg) == 0 {
			return "", fmt.Errorf("%w: empty output configuration", domain.ErrJobSubmissionInvalid)
		}
		if dir, ok := cfg["directory"].(string); ok {
			outputDir = dir
		}
	}
	return outputDir, nil
}

// check is one poll iteration: read the target's progress and fold it into
// the snapshot. A transport error reschedules with backoff and changes
// nothing; only the target's own terminal status stops the loop.
func (c *JobController) check(ctx context.Context, entry *jobEntry) (bool, error) {
	prog, err := entry.target.Poll(ctx)
	if err != nil {
		logger.WithJob(entry.handle()).Debug("progress poll failed", "error", err)
		return false, err
	}

	job, changed := entry.apply(prog, c.now())
	if changed {
		c.publish(job)
	}
	return job.Status.Terminal(), nil
}

// Progress returns a side-effect-free snapshot.
func (c *JobController) Progress(handle string) (domain.Job, error) {
	entry, err := c.lookup(handle)
	if err != nil {
		return domain.Job{}, err
	}
	return entry.snapshot(), nil
}

// List snapshots every live handle.
func (c *JobController) List() []domain.Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	jobs := make([]domain.Job, 0, len(c.jobs))
	for _, entry := range c.jobs {
		jobs = append(jobs, entry.snapshot())
	}
	return jobs
}

func (c *JobController) Pause(ctx context.Context, handle string) error {
	return c.control(ctx, handle, domain.ControlPause)
}

func (c *JobController) Resume(ctx context.Context, handle string) error {
	return c.control(ctx, handle, domain.ControlResume)
}

func (c *JobController) Cancel(ctx context.Context, handle string) error {
	return c.control(ctx, handle, domain.ControlCancel)
}

// control forwards a request to the job's target. Requests against targets
// that cannot honor them are rejected, never silently dropped. Effects are
// asynchronous: callers re-read progress rather than assuming the request
// already took hold.
func (c *JobController) control(ctx context.Context, handle string, ctl domain.Control) error {
	entry, err := c.lookup(handle)
	if err != nil {
		return err
	}

	if !entry.target.Supports(ctl) {
		return fmt.Errorf("%w: %s on %s target", domain.ErrUnsupportedControl, ctl, entry.snapshot().Target)
	}

	status := entry.snapshot().Status
	switch ctl {
	case domain.ControlPause:
		if status != domain.JobStatusProcessing {
			return fmt.Errorf("cannot pause job with status %s", status)
		}
	case domain.ControlResume:
		if status != domain.JobStatusPaused {
			return fmt.Errorf("cannot resume job with status %s", status)
		}
	case domain.ControlCancel:
		if status.Terminal() {
			return fmt.Errorf("cannot cancel job with status %s", status)
		}
	}

	if err := entry.target.Control(ctx, ctl); err != nil {
		return fmt.Errorf("%s request failed: %w", ctl, err)
	}

	// Optimistic local transition; the next poll confirms or corrects it.
	// Cancellation is terminal, so its poll loop stops here for good.
	switch ctl {
	case domain.ControlPause:
		c.publish(entry.setStatus(domain.JobStatusPaused, c.now()))
	case domain.ControlResume:
		c.publish(entry.setStatus(domain.JobStatusProcessing, c.now()))
	case domain.ControlCancel:
		c.publish(entry.setStatus(domain.JobStatusCancelled, c.now()))
		entry.stopPoll()
	}

	logger.WithJob(handle).Info("control request accepted", "control", ctl)
	return nil
}

// Acknowledge releases a terminal handle after the UI has shown its final
// summary, archiving the snapshot for the history view.
func (c *JobController) Acknowledge(ctx context.Context, handle string) error {
	entry, err := c.lookup(handle)
	if err != nil {
		return err
	}

	job := entry.snapshot()
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", domain.ErrJobNotTerminal, handle, job.Status)
	}

	entry.stopPoll()
	if c.archive != nil {
		if err := c.archive.Save(ctx, job); err != nil {
			logger.WithJob(handle).Warn("archiving acknowledged job failed", "error", err)
		}
	}

	c.mu.Lock()
	delete(c.jobs, handle)
	c.mu.Unlock()
	return nil
}

// Shutdown cancels every poll loop. Local loops observe the cancellation
// through their derived contexts.
func (c *JobController) Shutdown() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entry := range c.jobs {
		entry.stopPoll()
	}
}

func (c *JobController) lookup(handle string) (*jobEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.jobs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, handle)
	}
	return entry, nil
}

func (c *JobController) publish(job domain.Job) {
	if c.notify != nil {
		c.notify(job)
	}
}

func (e *jobEntry) handle() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Handle
}

func (e *jobEntry) snapshot() domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	job := e.job
	job.FailedItems = append([]domain.FailedItem(nil), e.job.FailedItems...)
	return job
}

// apply folds a target progress report into the snapshot. Attempted counts
// are monotonically non-decreasing per handle; a report that would move
// them backwards is discarded. Terminal snapshots never change again.
func (e *jobEntry) apply(prog domain.Progress, now time.Time) (domain.Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.Terminal() {
		return e.job, false
	}

	attempted := prog.Completed + prog.Failed
	if attempted < e.job.Completed+e.job.Failed {
		return e.job, false
	}

	if prog.Total > 0 {
		e.job.Total = prog.Total
	}
	e.job.Completed = prog.Completed
	e.job.Failed = prog.Failed
	e.job.Current = prog.Current
	if len(prog.FailedItems) > 0 {
		e.job.FailedItems = append([]domain.FailedItem(nil), prog.FailedItems...)
	}
	if prog.Reason != "" {
		e.job.Reason = prog.Reason
	}
	switch prog.Status {
	case domain.JobStatusProcessing, domain.JobStatusPaused,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
		e.job.Status = prog.Status
	}
	e.job.UpdatedAt = now

	snapshot := e.job
	snapshot.FailedItems = append([]domain.FailedItem(nil), e.job.FailedItems...)
	return snapshot, true
}

func (e *jobEntry) setStatus(status domain.JobStatus, now time.Time) domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.job.Status.Terminal() {
		e.job.Status = status
		e.job.UpdatedAt = now
	}
	job := e.job
	job.FailedItems = append([]domain.FailedItem(nil), e.job.FailedItems...)
	return job
}
