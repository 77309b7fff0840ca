package scaler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benchub/pygmy/pkg/cloud"
	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// fakeAdapter scripts provider behavior per instance class
type fakeAdapter struct {
	mu sync.Mutex

	// classes the provider rejects as incompatible
	rejectClasses map[string]bool
	// classes whose start never reaches running
	neverRuns map[string]bool
	stopErr   error

	currentClass string
	stops        int
	starts       int
	modifies     []string
	running      bool

	// barrier lets tests hold a scale mid-flight
	stopBarrier chan struct{}
}

func newFakeAdapter(current string) *fakeAdapter {
	return &fakeAdapter{
		rejectClasses: map[string]bool{},
		neverRuns:     map[string]bool{},
		currentClass:  current,
	}
}

func (f *fakeAdapter) Describe(ctx context.Context, region string, ids []string) (map[string]*cloud.InstanceState, error) {
	return nil, nil
}

func (f *fakeAdapter) Stop(ctx context.Context, region, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stops++
	f.running = false
	return nil
}

func (f *fakeAdapter) WaitStopped(ctx context.Context, region, id string, timeout time.Duration) error {
	if f.stopBarrier != nil {
		<-f.stopBarrier
	}
	return nil
}

func (f *fakeAdapter) Modify(ctx context.Context, region, id, class string) (cloud.ModifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modifies = append(f.modifies, class)
	if f.rejectClasses[class] {
		return cloud.ModifyNeedFallback, fmt.Errorf("class %s rejected", class)
	}
	f.currentClass = class
	return cloud.ModifyAccepted, nil
}

func (f *fakeAdapter) Start(ctx context.Context, region, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.running = true
	return nil
}

func (f *fakeAdapter) WaitRunning(ctx context.Context, region, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.neverRuns[f.currentClass] {
		return fmt.Errorf("timed out waiting for running")
	}
	return nil
}

func (f *fakeAdapter) ListClasses(ctx context.Context, region string) ([]*types.InstanceClass, error) {
	return nil, nil
}

// fakePager records pages
type fakePager struct {
	mu    sync.Mutex
	pages []string
}

func (f *fakePager) Page(ctx context.Context, host, title, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, title)
	return nil
}

// fakeProg optionally overrides the proposal
type fakeProg struct {
	override string
	calls    int
}

func (f *fakeProg) Prognosticate(ctx context.Context, clusterName, proposed string) string {
	f.calls++
	if f.override != "" {
		return f.override
	}
	return proposed
}

func newTestScaler(t *testing.T, adapter cloud.Adapter, pager *fakePager, prog *fakeProg) (*Scaler, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(adapter, store, prog, pager, time.Minute, time.Minute), store
}

func testNode(class string) *types.Node {
	return &types.Node{
		InstanceID:    "i-abc123",
		Name:          "replica-1",
		Region:        "us-east-1",
		ClusterID:     "c1",
		InstanceClass: class,
	}
}

func TestScaleHappyPath(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	pager := &fakePager{}
	prog := &fakeProg{}
	s, store := newTestScaler(t, adapter, pager, prog)

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	err := s.Scale(context.Background(), &Request{
		Node:        node,
		TargetClass: "m5.large",
		ClusterName: "c1",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.stops)
	assert.Equal(t, []string{"m5.large"}, adapter.modifies)
	assert.Equal(t, 1, adapter.starts)
	assert.Empty(t, pager.pages)
	assert.Equal(t, 1, prog.calls)

	// Commit recorded the pre-scale class for the reverse rule.
	stored, err := store.GetNode(node.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "m5.large", stored.InstanceClass)
	assert.Equal(t, "m5.xlarge", stored.LastInstanceClass)
}

func TestScalePrognosticationOverride(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	s, store := newTestScaler(t, adapter, &fakePager{}, &fakeProg{override: "t3.medium"})

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	err := s.Scale(context.Background(), &Request{
		Node:        node,
		TargetClass: "m5.large",
		ClusterName: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t3.medium"}, adapter.modifies)
}

func TestScaleSkipsPrognosticationWithoutCluster(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	prog := &fakeProg{override: "t3.medium"}
	s, store := newTestScaler(t, adapter, &fakePager{}, prog)

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	err := s.Scale(context.Background(), &Request{
		Node:        node,
		TargetClass: "m5.large",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, prog.calls)
	assert.Equal(t, []string{"m5.large"}, adapter.modifies)
}

func TestScaleFallbackPath(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	adapter.rejectClasses["m5.large"] = true
	pager := &fakePager{}
	s, store := newTestScaler(t, adapter, pager, &fakeProg{})

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	err := s.Scale(context.Background(), &Request{
		Node:            node,
		TargetClass:     "m5.large",
		FallbackClasses: []string{"m5a.large", "t3.large"},
	})
	require.NoError(t, err)

	// First fallback wins; the second is never tried.
	assert.Equal(t, []string{"m5.large", "m5a.large"}, adapter.modifies)
	assert.Empty(t, pager.pages)

	stored, err := store.GetNode(node.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "m5a.large", stored.InstanceClass)
	assert.Equal(t, "m5.xlarge", stored.LastInstanceClass)
}

func TestScaleFallbacksExhausted(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	adapter.rejectClasses["m5.large"] = true
	adapter.rejectClasses["m5a.large"] = true
	adapter.rejectClasses["t3.large"] = true
	pager := &fakePager{}
	s, store := newTestScaler(t, adapter, pager, &fakeProg{})

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	err := s.Scale(context.Background(), &Request{
		Node:            node,
		TargetClass:     "m5.large",
		FallbackClasses: []string{"m5a.large", "t3.large"},
	})
	require.Error(t, err)

	// Paged once, then reverted to the previous class.
	require.Len(t, pager.pages, 1)
	assert.Equal(t, "failed to restart replica after resize", pager.pages[0])
	assert.Equal(t, "m5.xlarge", adapter.currentClass)
	assert.True(t, adapter.running)

	// A failed scale never advances the class bookkeeping.
	stored, err := store.GetNode(node.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "m5.xlarge", stored.InstanceClass)
	assert.Empty(t, stored.LastInstanceClass)
}

func TestScaleRevertFailurePagesAgain(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	adapter.rejectClasses["m5.large"] = true
	adapter.rejectClasses["m5.xlarge"] = true // revert target also rejected
	pager := &fakePager{}
	s, store := newTestScaler(t, adapter, pager, &fakeProg{})

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	err := s.Scale(context.Background(), &Request{
		Node:        node,
		TargetClass: "m5.large",
	})
	require.Error(t, err)

	require.Len(t, pager.pages, 2)
	assert.Equal(t, "failed to restart replica after resize", pager.pages[0])
	assert.Equal(t, "failed to revert replica after resize", pager.pages[1])
}

func TestScaleStopFailureAbortsBeforeModify(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	adapter.stopErr = fmt.Errorf("insufficient permissions")
	pager := &fakePager{}
	s, store := newTestScaler(t, adapter, pager, &fakeProg{})

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	err := s.Scale(context.Background(), &Request{
		Node:        node,
		TargetClass: "m5.large",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop")
	assert.Empty(t, adapter.modifies)
	assert.Empty(t, pager.pages)
}

func TestScalePerInstanceMutualExclusion(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	adapter.stopBarrier = make(chan struct{})
	s, store := newTestScaler(t, adapter, &fakePager{}, &fakeProg{})

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.Scale(context.Background(), &Request{
			Node:        node,
			TargetClass: "m5.large",
		})
	}()

	// Wait until the first run holds the lock inside WaitStopped.
	require.Eventually(t, func() bool {
		return s.locks.holds(node.InstanceID)
	}, time.Second, 5*time.Millisecond)

	// A second activation on the same instance skips, it does not queue.
	err := s.Scale(context.Background(), &Request{
		Node:        node,
		TargetClass: "m5.large",
	})
	assert.ErrorIs(t, err, ErrScaleInProgress)

	close(adapter.stopBarrier)
	require.NoError(t, <-firstDone)
	assert.False(t, s.locks.holds(node.InstanceID))
}

func TestScaleReverseRoundTrip(t *testing.T) {
	adapter := newFakeAdapter("m5.xlarge")
	s, store := newTestScaler(t, adapter, &fakePager{}, &fakeProg{})

	node := testNode("m5.xlarge")
	require.NoError(t, store.CreateNode(node))

	// Primary rule shrinks the node.
	require.NoError(t, s.Scale(context.Background(), &Request{
		Node:        node,
		TargetClass: "m5.large",
	}))
	require.Equal(t, "m5.large", node.InstanceClass)
	require.Equal(t, "m5.xlarge", node.LastInstanceClass)

	// Reverse rule restores the recorded class.
	require.NoError(t, s.Scale(context.Background(), &Request{
		Node:        node,
		TargetClass: node.LastInstanceClass,
	}))

	stored, err := store.GetNode(node.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "m5.xlarge", stored.InstanceClass)
	assert.Equal(t, "m5.large", stored.LastInstanceClass)
	assert.Equal(t, "m5.xlarge", adapter.currentClass)
}
