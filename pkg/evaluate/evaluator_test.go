package evaluate

import (
	"context"
	"fmt"
	"testing"

	"github.com/benchub/pygmy/pkg/probe"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber returns canned metrics per instance id
type fakeProber struct {
	metrics map[string]*probe.Metrics
	errs    map[string]error
	calls   []string
}

func (f *fakeProber) Probe(ctx context.Context, node *types.Node) (*probe.Metrics, error) {
	f.calls = append(f.calls, node.InstanceID)
	if err, ok := f.errs[node.InstanceID]; ok {
		return nil, err
	}
	m, ok := f.metrics[node.InstanceID]
	if !ok {
		return nil, fmt.Errorf("no canned metrics for %s", node.InstanceID)
	}
	return m, nil
}

func node(id string) *types.Node {
	return &types.Node{InstanceID: id, ClusterID: "c1", InstanceClass: "m5.xlarge"}
}

func primaryNode() *types.Node {
	n := node("i-primary")
	n.Primary = true
	return n
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name      string
		op        types.PredicateOp
		value     float64
		threshold float64
		expected  bool
	}{
		{"less true", types.OpLess, 0.5, 2.0, true},
		{"less false", types.OpLess, 2.5, 2.0, false},
		{"less equal boundary", types.OpLess, 2.0, 2.0, false},
		{"greater true", types.OpGreater, 3.0, 2.0, true},
		{"greater false", types.OpGreater, 1.0, 2.0, false},
		{"equal true", types.OpEqual, 2.0, 2.0, true},
		{"equal false", types.OpEqual, 2.1, 2.0, false},
		{"unknown op", types.PredicateOp("between"), 1.0, 2.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Compare(tt.op, tt.value, tt.threshold))
		})
	}
}

func TestEvaluatePerReplica(t *testing.T) {
	rule := &types.Rule{
		ID:        "r1",
		ClusterID: "c1",
		Action:    types.ActionScaleDown,
		Predicates: []types.Predicate{
			{Metric: types.MetricLoadAverage, Op: types.OpLess, Threshold: 2.0},
			{Metric: types.MetricReplicationLag, Op: types.OpLess, Threshold: 60},
		},
	}

	tests := []struct {
		name     string
		metrics  map[string]*probe.Metrics
		errs     map[string]error
		eligible []string
		rejected []string
	}{
		{
			name: "all replicas pass",
			metrics: map[string]*probe.Metrics{
				"i-r1": {LoadAverage: 0.5, ReplicationLag: 1},
				"i-r2": {LoadAverage: 0.6, ReplicationLag: 2},
			},
			eligible: []string{"i-r1", "i-r2"},
		},
		{
			name: "each replica judged on its own load",
			metrics: map[string]*probe.Metrics{
				"i-r1": {LoadAverage: 0.5, ReplicationLag: 1},
				"i-r2": {LoadAverage: 5.0, ReplicationLag: 1},
			},
			eligible: []string{"i-r1"},
			rejected: []string{"i-r2"},
		},
		{
			name: "lagging replica rejected",
			metrics: map[string]*probe.Metrics{
				"i-r1": {LoadAverage: 0.5, ReplicationLag: 600},
				"i-r2": {LoadAverage: 0.5, ReplicationLag: 0},
			},
			eligible: []string{"i-r2"},
			rejected: []string{"i-r1"},
		},
		{
			name: "probe failure fails all predicates",
			metrics: map[string]*probe.Metrics{
				"i-r2": {LoadAverage: 0.5, ReplicationLag: 0},
			},
			errs:     map[string]error{"i-r1": fmt.Errorf("connection refused")},
			eligible: []string{"i-r2"},
			rejected: []string{"i-r1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{metrics: tt.metrics, errs: tt.errs}
			e := NewEvaluator(prober)

			decisions := e.Evaluate(context.Background(), rule, nil, primaryNode(),
				[]*types.Node{node("i-r1"), node("i-r2")})

			var eligible, rejected []string
			for _, d := range decisions {
				if d.Eligible {
					eligible = append(eligible, d.Node.InstanceID)
				} else {
					rejected = append(rejected, d.Node.InstanceID)
					assert.NotEmpty(t, d.Reason)
				}
			}
			assert.Equal(t, tt.eligible, eligible)
			assert.Equal(t, tt.rejected, rejected)
		})
	}
}

func TestEvaluateClusterBudget(t *testing.T) {
	rule := &types.Rule{
		ID:        "r1",
		ClusterID: "c1",
		Action:    types.ActionScaleDown,
		Predicates: []types.Predicate{
			{Metric: types.MetricLoadAverage, Op: types.OpLess, Threshold: 0.1}, // substituted by the budget
		},
	}
	policy := &types.ClusterPolicy{ClusterID: "c1", AvgLoad: 3.0}

	t.Run("greedy packing admits under budget", func(t *testing.T) {
		prober := &fakeProber{metrics: map[string]*probe.Metrics{
			"i-primary": {LoadAverage: 1.0},
			"i-r1":      {LoadAverage: 0.5},
			"i-r2":      {LoadAverage: 1.0},
			"i-r3":      {LoadAverage: 2.0},
		}}
		e := NewEvaluator(prober)

		decisions := e.Evaluate(context.Background(), rule, policy, primaryNode(),
			[]*types.Node{node("i-r3"), node("i-r1"), node("i-r2")})

		byID := make(map[string]*Decision)
		admitted := 0.0
		for _, d := range decisions {
			byID[d.Node.InstanceID] = d
			if d.Eligible {
				admitted += d.Metrics.LoadAverage
			}
		}

		assert.True(t, byID["i-r1"].Eligible)
		assert.True(t, byID["i-r2"].Eligible)
		assert.False(t, byID["i-r3"].Eligible)
		assert.Contains(t, byID["i-r3"].Reason, "budget")

		// Admitted set stays strictly under budget; the first rejection
		// would have crossed it.
		assert.Less(t, 1.0+admitted, policy.AvgLoad)
		assert.GreaterOrEqual(t, 1.0+admitted+byID["i-r3"].Metrics.LoadAverage, policy.AvgLoad)
	})

	t.Run("smallest loads are admitted first", func(t *testing.T) {
		prober := &fakeProber{metrics: map[string]*probe.Metrics{
			"i-primary": {LoadAverage: 2.9},
			"i-r1":      {LoadAverage: 0.5},
			"i-r2":      {LoadAverage: 0.01},
		}}
		e := NewEvaluator(prober)

		decisions := e.Evaluate(context.Background(), rule, policy, primaryNode(),
			[]*types.Node{node("i-r1"), node("i-r2")})

		for _, d := range decisions {
			switch d.Node.InstanceID {
			case "i-r2":
				// 2.9 + 0.01 < 3.0, fits
				assert.True(t, d.Eligible)
			case "i-r1":
				assert.False(t, d.Eligible)
			}
		}
	})

	t.Run("equal loads break ties by instance id", func(t *testing.T) {
		prober := &fakeProber{metrics: map[string]*probe.Metrics{
			"i-primary": {LoadAverage: 1.0},
			"i-a":       {LoadAverage: 0.9},
			"i-b":       {LoadAverage: 0.9},
		}}
		e := NewEvaluator(prober)

		decisions := e.Evaluate(context.Background(), rule, policy, primaryNode(),
			[]*types.Node{node("i-b"), node("i-a")})

		// 1.0 + 0.9 admits i-a; 1.9 + 0.9 = 2.8 < 3.0 admits i-b too
		for _, d := range decisions {
			assert.True(t, d.Eligible, d.Node.InstanceID)
		}
	})

	t.Run("primary probe failure rejects everything", func(t *testing.T) {
		prober := &fakeProber{
			metrics: map[string]*probe.Metrics{
				"i-r1": {LoadAverage: 0.5},
			},
			errs: map[string]error{"i-primary": fmt.Errorf("timeout")},
		}
		e := NewEvaluator(prober)

		decisions := e.Evaluate(context.Background(), rule, policy, primaryNode(),
			[]*types.Node{node("i-r1")})

		require.Len(t, decisions, 1)
		assert.False(t, decisions[0].Eligible)
		assert.Contains(t, decisions[0].Reason, "primary probe failed")
	})

	t.Run("lag predicate still applies before the budget", func(t *testing.T) {
		laggedRule := &types.Rule{
			ID:        "r1",
			ClusterID: "c1",
			Predicates: []types.Predicate{
				{Metric: types.MetricReplicationLag, Op: types.OpLess, Threshold: 60},
				{Metric: types.MetricLoadAverage, Op: types.OpLess, Threshold: 0.1},
			},
		}
		prober := &fakeProber{metrics: map[string]*probe.Metrics{
			"i-primary": {LoadAverage: 0.0},
			"i-r1":      {LoadAverage: 0.1, ReplicationLag: 600},
		}}
		e := NewEvaluator(prober)

		decisions := e.Evaluate(context.Background(), laggedRule, policy, primaryNode(),
			[]*types.Node{node("i-r1")})

		require.Len(t, decisions, 1)
		assert.False(t, decisions[0].Eligible)
		assert.Contains(t, decisions[0].Reason, "replication_lag")
	})
}

func TestEvaluateSingleProbePass(t *testing.T) {
	rule := &types.Rule{ID: "r1", ClusterID: "c1"}
	prober := &fakeProber{metrics: map[string]*probe.Metrics{
		"i-r1": {LoadAverage: 0.5},
		"i-r2": {LoadAverage: 0.5},
	}}
	e := NewEvaluator(prober)

	e.Evaluate(context.Background(), rule, nil, primaryNode(),
		[]*types.Node{node("i-r2"), node("i-r1")})

	// One probe per replica, in stable id order, primary untouched in
	// per-replica mode.
	assert.Equal(t, []string{"i-r1", "i-r2"}, prober.calls)
}
