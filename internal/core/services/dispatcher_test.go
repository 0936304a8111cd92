package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grainery.core/internal/core/domain"
)

type fakeRemote struct {
	payload []byte
	err     error
	calls   int
}

func (f *fakeRemote) Process(ctx context.Context, kind domain.OperationKind, params domain.OperationParams) ([]byte, error) {
	f.calls++
	return f.payload, f.err
}

type fakeExecutor struct {
	payload []byte
	err     error
	calls   int
}

func (f *fakeExecutor) Name() string { return "fake-gpu" }

func (f *fakeExecutor) Process(ctx context.Context, kind domain.OperationKind, params domain.OperationParams, source []byte) ([]byte, error) {
	f.calls++
	return f.payload, f.err
}

type fakeResolver struct {
	payload map[domain.Locator][]byte
	err     error
	calls   int
}

func (f *fakeResolver) Resolve(ctx context.Context, loc domain.Locator) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.payload[loc]; ok {
		return b, nil
	}
	return []byte("source-bytes"), nil
}

func newTestRegistry(canCompute bool) *CapabilityRegistry {
	return NewCapabilityRegistry(&fakeProber{caps: domain.ServerCapabilities{
		ExecutionMode: domain.ExecutionModeStandalone,
		CanCompute:    canCompute,
		CanStoreData:  true,
		CanServeFiles: true,
	}}, time.Minute)
}

func testParams() domain.OperationParams {
	return domain.OperationParams{Source: "file:///photos/roll5/frame12.dng"}
}

func TestDispatchRemoteSuccess(t *testing.T) {
	remote := &fakeRemote{payload: []byte("rendered")}
	local := &fakeExecutor{}
	d := NewDispatcher(newTestRegistry(true), remote, local, &fakeResolver{})

	result, err := d.Dispatch(context.Background(), domain.OperationRender, testParams())
	require.NoError(t, err)

	assert.Equal(t, domain.TargetRemote, result.Source)
	assert.Equal(t, []byte("rendered"), result.Payload)
	assert.Equal(t, 0, local.calls, "local executor must not run when remote succeeds")
}

func TestDispatchFallsBackOnNoCompute(t *testing.T) {
	remote := &fakeRemote{err: fmt.Errorf("%w: render", domain.ErrNoCompute)}
	local := &fakeExecutor{payload: []byte("local-render")}
	d := NewDispatcher(newTestRegistry(true), remote, local, &fakeResolver{})

	result, err := d.Dispatch(context.Background(), domain.OperationRender, testParams())
	require.NoError(t, err)

	// E_NO_COMPUTE triggers exactly one local attempt.
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, domain.TargetLocal, result.Source)
	assert.Equal(t, []byte("local-render"), result.Payload)
}

func TestDispatchNoFallbackOnOtherErrors(t *testing.T) {
	remote := &fakeRemote{err: errors.New("process render rejected: status 400")}
	local := &fakeExecutor{}
	d := NewDispatcher(newTestRegistry(true), remote, local, &fakeResolver{})

	_, err := d.Dispatch(context.Background(), domain.OperationRender, testParams())
	require.Error(t, err)

	// Bad parameters or auth would not be fixed by running locally.
	assert.Equal(t, 0, local.calls)
}

func TestDispatchLocalWhenServerCannotCompute(t *testing.T) {
	remote := &fakeRemote{}
	local := &fakeExecutor{payload: []byte("local")}
	resolver := &fakeResolver{}
	d := NewDispatcher(newTestRegistry(false), remote, local, resolver)

	result, err := d.Dispatch(context.Background(), domain.OperationPreview, testParams())
	require.NoError(t, err)

	assert.Equal(t, 0, remote.calls, "data-only servers are never asked to compute")
	assert.Equal(t, domain.TargetLocal, result.Source)
	assert.Equal(t, 1, resolver.calls, "local execution resolves its source through the cache")
}

func TestDispatchLocalExecutorUnavailable(t *testing.T) {
	d := NewDispatcher(newTestRegistry(false), &fakeRemote{}, nil, &fakeResolver{})

	_, err := d.Dispatch(context.Background(), domain.OperationRender, testParams())
	assert.ErrorIs(t, err, domain.ErrLocalExecutorUnavailable)
}

func TestDispatchLocalResolveFailure(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("%w: gone", domain.ErrResourceUnavailable)}
	d := NewDispatcher(newTestRegistry(false), &fakeRemote{}, &fakeExecutor{}, resolver)

	_, err := d.Dispatch(context.Background(), domain.OperationRender, testParams())
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
}

func TestDecideFollowsCapability(t *testing.T) {
	d := NewDispatcher(newTestRegistry(true), &fakeRemote{}, nil, &fakeResolver{})
	decision := d.Decide(context.Background())
	assert.Equal(t, domain.TargetRemote, decision.Target)
	assert.Equal(t, domain.DecisionCapability, decision.SourceOfTruth)

	d = NewDispatcher(newTestRegistry(false), &fakeRemote{}, nil, &fakeResolver{})
	decision = d.Decide(context.Background())
	assert.Equal(t, domain.TargetLocal, decision.Target)
}
