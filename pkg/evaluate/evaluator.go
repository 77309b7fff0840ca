package evaluate

import (
	"context"
	"fmt"
	"sort"

	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/metrics"
	"github.com/benchub/pygmy/pkg/probe"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Decision records the evaluator's verdict for one replica
type Decision struct {
	Node     *types.Node
	Metrics  *probe.Metrics
	Eligible bool
	Reason   string // rejection reason when not eligible
}

// Evaluator decides which replicas of a cluster are safe to scale. All
// probe results for one evaluation come from a single pass; the snapshot
// is never re-read within an activation.
type Evaluator struct {
	prober probe.Prober
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator over the given prober
func NewEvaluator(prober probe.Prober) *Evaluator {
	return &Evaluator{
		prober: prober,
		logger: log.WithComponent("evaluator"),
	}
}

// Evaluate probes the replica set once and returns a decision per replica.
// In per-replica mode every predicate of the rule applies to each replica
// independently. When the cluster carries a policy with an average-load
// budget, the load predicate is replaced by a packing pass against that
// budget; lag and connection predicates still apply first.
func (e *Evaluator) Evaluate(ctx context.Context, rule *types.Rule, policy *types.ClusterPolicy, primary *types.Node, replicas []*types.Node) []*Decision {
	aggregate := policy != nil && policy.AvgLoad > 0

	// One probe pass over the replica set, in stable instance id order.
	ordered := append([]*types.Node{}, replicas...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].InstanceID < ordered[j].InstanceID
	})

	decisions := make([]*Decision, 0, len(ordered))
	for _, replica := range ordered {
		d := &Decision{Node: replica}
		m, err := e.prober.Probe(ctx, replica)
		if err != nil {
			d.Reason = fmt.Sprintf("probe failed: %v", err)
			metrics.RejectionsTotal.WithLabelValues("probe_failed").Inc()
			decisions = append(decisions, d)
			continue
		}
		d.Metrics = m

		if reason := e.checkPredicates(rule, m, aggregate); reason != "" {
			d.Reason = reason
			metrics.RejectionsTotal.WithLabelValues("predicate").Inc()
			decisions = append(decisions, d)
			continue
		}

		d.Eligible = true
		decisions = append(decisions, d)
	}

	if aggregate {
		e.packAgainstBudget(ctx, policy.AvgLoad, primary, decisions)
	}

	for _, d := range decisions {
		evt := e.logger.Debug().
			Str("rule_id", rule.ID).
			Str("instance_id", d.Node.InstanceID).
			Bool("eligible", d.Eligible)
		if !d.Eligible {
			evt = evt.Str("reason", d.Reason)
		}
		evt.Msg("Evaluated replica")
	}

	return decisions
}

// checkPredicates applies the rule's predicates to one probe snapshot.
// Returns the first failure reason, or "" when the replica passes. The
// load predicate is skipped in aggregate mode, where the budget pass
// substitutes for it.
func (e *Evaluator) checkPredicates(rule *types.Rule, m *probe.Metrics, aggregate bool) string {
	for _, p := range rule.Predicates {
		if aggregate && p.Metric == types.MetricLoadAverage {
			continue
		}
		value, err := m.Value(p.Metric)
		if err != nil {
			return err.Error()
		}
		if !Compare(p.Op, value, p.Threshold) {
			return fmt.Sprintf("%s check failed (%g %s %g is false)", p.Metric, value, p.Op, p.Threshold)
		}
	}
	return ""
}

// packAgainstBudget greedily admits replicas in ascending load order while
// the running sum of primary plus admitted loads stays strictly under the
// budget. The first replica that would exceed it is rejected along with
// every remaining one.
func (e *Evaluator) packAgainstBudget(ctx context.Context, budget float64, primary *types.Node, decisions []*Decision) {
	candidates := lo.Filter(decisions, func(d *Decision, _ int) bool {
		return d.Eligible
	})
	if len(candidates) == 0 {
		return
	}

	primaryMetrics, err := e.prober.Probe(ctx, primary)
	if err != nil {
		for _, d := range candidates {
			d.Eligible = false
			d.Reason = fmt.Sprintf("primary probe failed: %v", err)
			metrics.RejectionsTotal.WithLabelValues("probe_failed").Inc()
		}
		return
	}

	// Ascending load; equal loads fall back to stable instance id order.
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := candidates[i].Metrics.LoadAverage, candidates[j].Metrics.LoadAverage
		if li != lj {
			return li < lj
		}
		return candidates[i].Node.InstanceID < candidates[j].Node.InstanceID
	})

	running := primaryMetrics.LoadAverage
	exceeded := false
	for _, d := range candidates {
		if exceeded || running+d.Metrics.LoadAverage >= budget {
			exceeded = true
			d.Eligible = false
			d.Reason = fmt.Sprintf("cluster load budget exceeded (%g + %g >= %g)",
				running, d.Metrics.LoadAverage, budget)
			metrics.RejectionsTotal.WithLabelValues("budget").Inc()
			continue
		}
		running += d.Metrics.LoadAverage
	}
}

// Compare applies a predicate operator. The predicate states the condition
// that must hold for the replica to be safe.
func Compare(op types.PredicateOp, value, threshold float64) bool {
	switch op {
	case types.OpEqual:
		return value == threshold
	case types.OpGreater:
		return value > threshold
	case types.OpLess:
		return value < threshold
	default:
		return false
	}
}

// Eligible filters decisions down to the admitted replicas, preserving order
func Eligible(decisions []*Decision) []*Decision {
	return lo.Filter(decisions, func(d *Decision, _ int) bool {
		return d.Eligible
	})
}
