package domain

import (
	"time"
)

// ExecutionMode is how the connected catalog server operates.
type ExecutionMode string

const (
	// ExecutionModeStandalone servers hold the catalog and run compute.
	ExecutionModeStandalone ExecutionMode = "standalone"
	// ExecutionModeDataOnly servers hold the catalog but defer compute
	// to the requesting device.
	ExecutionModeDataOnly ExecutionMode = "data-only"
)

// ServerCapabilities is the typed view of the server's discovery answer.
// Every optional field of the wire payload is resolved to a concrete value
// at the registry boundary so nothing downstream handles raw JSON.
type ServerCapabilities struct {
	ExecutionMode ExecutionMode `json:"execution_mode"`
	CanCompute    bool          `json:"can_compute"`
	CanStoreData  bool          `json:"can_store_data"`
	CanServeFiles bool          `json:"can_serve_files"`
	ServerVersion string        `json:"server_version"`
	FetchedAt     time.Time     `json:"fetched_at"`
}

// PermissiveCapabilities is the synthetic answer used when a capability
// probe cannot complete. Callers must never be blocked by a failed probe,
// so the degraded default allows everything and lets the operation itself
// discover what the server can actually do.
func PermissiveCapabilities(now time.Time) ServerCapabilities {
	return ServerCapabilities{
		ExecutionMode: ExecutionModeStandalone,
		CanCompute:    true,
		CanStoreData:  true,
		CanServeFiles: true,
		FetchedAt:     now,
	}
}

// DispatchTarget names where an operation executes.
type DispatchTarget string

const (
	TargetRemote DispatchTarget = "remote"
	TargetLocal  DispatchTarget = "local"
)

// DecisionSource records why a target was chosen.
type DecisionSource string

const (
	// DecisionCapability means the capability answer picked the target.
	DecisionCapability DecisionSource = "capability"
	// DecisionErrorFallback means the server refused compute mid-operation.
	DecisionErrorFallback DecisionSource = "explicit-error-fallback"
)

// DispatchDecision is computed per call and never persisted.
type DispatchDecision struct {
	Target        DispatchTarget `json:"target"`
	SourceOfTruth DecisionSource `json:"source_of_truth"`
}

// OperationKind is a one-shot processing operation.
type OperationKind string

const (
	OperationPreview OperationKind = "preview"
	OperationRender  OperationKind = "render"
)

// OperationParams carries the inputs of a one-shot operation. Source is the
// locator of the photo bytes; Options is the opaque processing configuration
// forwarded to whichever target executes.
type OperationParams struct {
	Source  Locator        `json:"source"`
	Options map[string]any `json:"options,omitempty"`
}

// DispatchResult is the outcome of a dispatched operation, tagged with the
// target that produced it.
type DispatchResult struct {
	Payload []byte         `json:"-"`
	Source  DispatchTarget `json:"source"`
}
