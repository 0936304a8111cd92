package ports

import (
	"context"

	"grainery.core/internal/core/domain"
)

// CapabilityProber answers the server's discovery endpoint.
type CapabilityProber interface {
	Probe(ctx context.Context) (domain.ServerCapabilities, error)
}

// RemoteCompute runs one-shot processing operations on the catalog server.
// A 503/E_NO_COMPUTE answer is surfaced as domain.ErrNoCompute.
type RemoteCompute interface {
	Process(ctx context.Context, kind domain.OperationKind, params domain.OperationParams) ([]byte, error)
}

// BatchService is the server-side batch job API.
type BatchService interface {
	SubmitBatch(ctx context.Context, spec domain.JobSpec) (remoteID string, err error)
	BatchProgress(ctx context.Context, remoteID string) (domain.Progress, error)
	BatchControl(ctx context.Context, remoteID string, ctl domain.Control) error
}

// LocalExecutor is the device's own processing capability, typically backed
// by a GPU pipeline. The pixel kernel itself lives behind this port.
type LocalExecutor interface {
	Name() string
	Process(ctx context.Context, kind domain.OperationKind, params domain.OperationParams, source []byte) ([]byte, error)
}

// ResourceResolver hands back the bytes for a locator, however reached.
type ResourceResolver interface {
	Resolve(ctx context.Context, loc domain.Locator) ([]byte, error)
}

// LocalReader reads locators that address the device's own filesystem.
type LocalReader interface {
	CanRead(loc domain.Locator) bool
	Read(ctx context.Context, loc domain.Locator) ([]byte, error)
}

// ResourceFetcher retrieves a locator over the network.
type ResourceFetcher interface {
	Fetch(ctx context.Context, loc domain.Locator) ([]byte, error)
}

// JobArchive keeps acknowledged terminal jobs for the UI's history view.
type JobArchive interface {
	Save(ctx context.Context, job domain.Job) error
	List(ctx context.Context, limit int) ([]domain.Job, error)
	Close() error
}

// CacheIndex persists which locators were resident so a restart can re-warm
// the cache. Advisory only; payload bytes are never persisted.
type CacheIndex interface {
	Save(ctx context.Context, locators []domain.Locator) error
	Load(ctx context.Context) ([]domain.Locator, error)
}
