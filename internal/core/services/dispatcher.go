package services

import (
	"context"
	"errors"
	"fmt"

	"grainery.core/internal/core/domain"
	"grainery.core/internal/core/logger"
	"grainery.core/internal/core/ports"
)

// Dispatcher routes image-processing operations to the catalog server or to
// the device's own executor. Remote execution is preferred whenever the
// server advertises compute; the one signal that moves an operation to the
// local path mid-flight is the server's explicit E_NO_COMPUTE answer. Any
// other remote failure is a hard failure, since bad parameters or auth
// would not be fixed by running locally.
type Dispatcher struct {
	registry *CapabilityRegistry
	remote   ports.RemoteCompute
	local    ports.LocalExecutor // nil when the device has no executor
	resolver ports.ResourceResolver
}

func NewDispatcher(
	registry *CapabilityRegistry,
	remote ports.RemoteCompute,
	local ports.LocalExecutor,
	resolver ports.ResourceResolver,
) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		remote:   remote,
		local:    local,
		resolver: resolver,
	}
}

// Decide picks an initial execution target from the capability answer
// alone, without performing the operation. Used by the job controller to
// target batch jobs.
func (d *Dispatcher) Decide(ctx context.Context) domain.DispatchDecision {
	caps := d.registry.Capabilities(ctx)
	target := domain.TargetLocal
	if caps.CanCompute {
		target = domain.TargetRemote
	}
	return domain.DispatchDecision{
		Target:        target,
		SourceOfTruth: domain.DecisionCapability,
	}
}

// LocalAvailable reports whether this device can execute operations itself.
func (d *Dispatcher) LocalAvailable() bool {
	return d.local != nil
}

// Dispatch executes a one-shot operation, negotiating the target.
func (d *Dispatcher) Dispatch(ctx context.Context, kind domain.OperationKind, params domain.OperationParams) (domain.DispatchResult, error) {
	caps := d.registry.Capabilities(ctx)

	if caps.CanCompute {
		payload, err := d.remote.Process(ctx, kind, params)
		if err == nil {
			return domain.DispatchResult{Payload: payload, Source: domain.TargetRemote}, nil
		}
		if !errors.Is(err, domain.ErrNoCompute) {
			return domain.DispatchResult{}, err
		}
		logger.Info("remote compute refused, falling back to local execution",
			"operation", kind, "source", params.Source)
		return d.runLocal(ctx, kind, params)
	}

	return d.runLocal(ctx, kind, params)
}

func (d *Dispatcher) runLocal(ctx context.Context, kind domain.OperationKind, params domain.OperationParams) (domain.DispatchResult, error) {
	if d.local == nil {
		return domain.DispatchResult{}, domain.ErrLocalExecutorUnavailable
	}

	source, err := d.resolver.Resolve(ctx, params.Source)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("resolving source for local %s: %w", kind, err)
	}

	payload, err := d.local.Process(ctx, kind, params, source)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("local %s via %s: %w", kind, d.local.Name(), err)
	}
	return domain.DispatchResult{Payload: payload, Source: domain.TargetLocal}, nil
}
