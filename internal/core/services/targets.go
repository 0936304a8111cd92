package services

import (
	"context"

	"grainery.core/internal/core/domain"
	"grainery.core/internal/core/ports"
)

// executionTarget is the uniform contract the controller drives regardless
// of where a job runs. Control support is a capability of the target, not a
// branch on execution mode.
type executionTarget interface {
	Start(ctx context.Context) error
	Poll(ctx context.Context) (domain.Progress, error)
	Supports(ctl domain.Control) bool
	Control(ctx context.Context, ctl domain.Control) error
}

// remoteTarget drives a job the catalog server owns. Progress lives
// server-side and is observed via polling; controls are forwarded requests.
type remoteTarget struct {
	api      ports.BatchService
	remoteID string
}

func newRemoteTarget(api ports.BatchService, remoteID string) *remoteTarget {
	return &remoteTarget{api: api, remoteID: remoteID}
}

func (t *remoteTarget) Start(ctx context.Context) error { return nil }

func (t *remoteTarget) Poll(ctx context.Context) (domain.Progress, error) {
	return t.api.BatchProgress(ctx, t.remoteID)
}

func (t *remoteTarget) Supports(ctl domain.Control) bool {
	switch ctl {
	case domain.ControlPause, domain.ControlResume, domain.ControlCancel:
		return true
	}
	return false
}

func (t *remoteTarget) Control(ctx context.Context, ctl domain.Control) error {
	return t.api.BatchControl(ctx, t.remoteID, ctl)
}
