package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benchub/pygmy/pkg/calendar"
	"github.com/benchub/pygmy/pkg/dns"
	"github.com/benchub/pygmy/pkg/evaluate"
	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/metrics"
	"github.com/benchub/pygmy/pkg/rules"
	"github.com/benchub/pygmy/pkg/scaler"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/topology"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// activationTimeout bounds one full pipeline run, waits included
const activationTimeout = 45 * time.Minute

// Schedule tags reserved for this system. The registry may list and
// remove entries by these tags but never touches others.
func primaryTag(ruleID string) string { return "rule_" + ruleID }
func retryTag(ruleID string) string   { return "retry_rule_" + ruleID }

// Dispatcher translates rule definitions into periodic activations and
// bounded retry loops, and runs the activation pipeline:
// exception calendar → safety evaluator → state machine → DNS steerer.
type Dispatcher struct {
	store     storage.Store
	view      *topology.View
	evaluator *evaluate.Evaluator
	scaler    *scaler.Scaler
	steerer   *dns.Steerer
	calendar  *calendar.Calendar

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID

	now    func() time.Time
	logger zerolog.Logger
}

// New creates a dispatcher
func New(store storage.Store, view *topology.View, evaluator *evaluate.Evaluator, sc *scaler.Scaler, steerer *dns.Steerer, cal *calendar.Calendar) *Dispatcher {
	return &Dispatcher{
		store:     store,
		view:      view,
		evaluator: evaluator,
		scaler:    sc,
		steerer:   steerer,
		calendar:  cal,
		cron:      cron.New(),
		entries:   make(map[string]cron.EntryID),
		now:       time.Now,
		logger:    log.WithComponent("dispatcher"),
	}
}

// Start begins firing schedules
func (d *Dispatcher) Start() {
	d.cron.Start()
	d.logger.Info().Msg("Dispatcher started")
}

// Stop stops the schedule clock and waits for running activations
func (d *Dispatcher) Stop() {
	<-d.cron.Stop().Done()
	d.logger.Info().Msg("Dispatcher stopped")
}

// Reconcile rebuilds the schedule registry from the persisted rule set.
// Called on startup so installed schedules survive controller restart.
// Rules mid-retry get their retry schedule back as well.
func (d *Dispatcher) Reconcile() error {
	ruleSet, err := d.store.ListRules()
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	for _, rule := range ruleSet {
		if err := d.Install(rule); err != nil {
			d.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("Failed to install rule schedule")
			continue
		}
		if rule.Retry != nil && rule.Retry.Tries > 0 {
			if err := d.ensureRetryEntry(rule); err != nil {
				d.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("Failed to restore retry schedule")
			}
		}
	}

	d.logger.Info().Int("rules", len(ruleSet)).Msg("Reconciled schedules against rule set")
	return nil
}

// Install registers the rule's primary schedule, replacing any existing
// entry with the same tag.
func (d *Dispatcher) Install(rule *types.Rule) error {
	spec, err := rules.CronSpec(rule.Schedule)
	if err != nil {
		return err
	}

	ruleID := rule.ID
	return d.addEntry(primaryTag(ruleID), spec, func() {
		d.activate(ruleID)
	})
}

// Uninstall removes the rule's primary and retry schedules
func (d *Dispatcher) Uninstall(rule *types.Rule) {
	d.removeEntry(primaryTag(rule.ID))
	d.removeEntry(retryTag(rule.ID))
}

// activate is the schedule callback: re-load the rule (its definition or
// retry state may have changed since install) and run the pipeline.
func (d *Dispatcher) activate(ruleID string) {
	rule, err := d.store.GetRule(ruleID)
	if err != nil {
		d.logger.Error().Err(err).Str("rule_id", ruleID).Msg("Scheduled rule no longer loadable, removing schedules")
		d.removeEntry(primaryTag(ruleID))
		d.removeEntry(retryTag(ruleID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), activationTimeout)
	defer cancel()

	if err := d.Apply(ctx, rule); err != nil {
		d.logger.Error().Err(err).Str("rule_id", ruleID).Msg("Rule activation failed")
	}
}

// Apply runs one activation and performs the retry bookkeeping: a
// pipeline error schedules a retry, success cancels any live retry and
// resets the counter.
func (d *Dispatcher) Apply(ctx context.Context, rule *types.Rule) error {
	err := d.Fire(ctx, rule)
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("failed").Inc()
		d.scheduleRetry(rule)
		return err
	}

	d.clearRetry(rule)
	return nil
}

// Fire runs the pipeline once. Benign aborts (exception calendar,
// ineligible replicas, a scale already in progress elsewhere) return nil;
// failed scales, DNS failures and failed calendar, cluster, topology or
// policy lookups surface as errors.
func (d *Dispatcher) Fire(ctx context.Context, rule *types.Rule) error {
	logger := d.logger.With().Str("rule_id", rule.ID).Str("cluster_id", rule.ClusterID).Logger()

	suppressed, err := d.calendar.Suppressed(d.now(), rule.ClusterID)
	if err != nil {
		return fmt.Errorf("exception calendar lookup: %w", err)
	}
	if suppressed {
		logger.Info().Msg("Suppressed by exception calendar")
		metrics.ActivationsTotal.WithLabelValues("suppressed").Inc()
		return nil
	}

	cluster, err := d.store.GetCluster(rule.ClusterID)
	if err != nil {
		return fmt.Errorf("cluster lookup: %w", err)
	}

	primary, replicas, err := d.view.ClusterNodes(rule.ClusterID)
	if err != nil {
		return fmt.Errorf("topology: %w", err)
	}
	if len(replicas) == 0 {
		logger.Info().Msg("Cluster has no replicas, nothing to scale")
		metrics.ActivationsTotal.WithLabelValues("empty").Inc()
		return nil
	}

	policy, err := d.store.GetClusterPolicy(rule.ClusterID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("cluster policy lookup: %w", err)
		}
		policy = nil
	}

	decisions := d.evaluator.Evaluate(ctx, rule, policy, primary, replicas)

	var failures []error
	scaled := 0
	for _, decision := range evaluate.Eligible(decisions) {
		node := decision.Node

		req := &scaler.Request{
			Node:            node,
			TargetClass:     rule.TargetClass,
			FallbackClasses: rule.FallbackClasses,
			ClusterName:     cluster.Name,
		}
		if rule.IsReverse() {
			// Restore the recorded pre-scale class, no prognostication,
			// no fallbacks.
			if node.LastInstanceClass == "" {
				logger.Warn().Str("instance_id", node.InstanceID).Msg("No recorded previous class, skipping reverse scale")
				continue
			}
			req.TargetClass = node.LastInstanceClass
			req.FallbackClasses = nil
			req.ClusterName = ""
		}

		err := d.scaler.Scale(ctx, req)
		if errors.Is(err, scaler.ErrScaleInProgress) {
			logger.Info().Str("instance_id", node.InstanceID).Msg("Scale already in progress, skipping")
			continue
		}
		if err != nil {
			failures = append(failures, err)
			continue
		}
		scaled++

		// DNS moves only after a committed scale.
		if err := d.steerer.Steer(ctx, rule.Action, node, primary); err != nil {
			logger.Error().Err(err).Str("instance_id", node.InstanceID).Msg("DNS steering failed")
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		return errors.Join(failures...)
	}

	logger.Info().
		Int("eligible", len(evaluate.Eligible(decisions))).
		Int("scaled", scaled).
		Int("replicas", len(replicas)).
		Msg("Rule activation complete")
	metrics.ActivationsTotal.WithLabelValues("success").Inc()
	return nil
}

// scheduleRetry advances the rule's retry counter and keeps exactly one
// retry schedule alive while the counter is within bounds. Past the bound
// the schedule is removed and the counter reset; the primary schedule is
// never touched.
func (d *Dispatcher) scheduleRetry(rule *types.Rule) {
	if rule.Retry == nil {
		return
	}

	rule.Retry.Tries++
	if rule.Retry.Tries > rule.Retry.Max {
		d.logger.Info().
			Str("rule_id", rule.ID).
			Int("tries", rule.Retry.Tries-1).
			Msg("Retry budget exhausted, removing retry schedule")
		d.removeEntry(retryTag(rule.ID))
		rule.Retry.Tries = 0
	} else {
		if err := d.ensureRetryEntry(rule); err != nil {
			d.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("Failed to install retry schedule")
		} else {
			metrics.RetriesScheduled.Inc()
		}
	}

	if err := d.store.UpdateRule(rule); err != nil {
		d.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("Failed to persist retry counter")
	}
}

// clearRetry cancels a live retry schedule and resets the counter after a
// successful or benign activation.
func (d *Dispatcher) clearRetry(rule *types.Rule) {
	d.removeEntry(retryTag(rule.ID))
	if rule.Retry != nil && rule.Retry.Tries != 0 {
		rule.Retry.Tries = 0
		if err := d.store.UpdateRule(rule); err != nil {
			d.logger.Error().Err(err).Str("rule_id", rule.ID).Msg("Failed to reset retry counter")
		}
	}
}

func (d *Dispatcher) ensureRetryEntry(rule *types.Rule) error {
	tag := retryTag(rule.ID)
	d.mu.Lock()
	_, exists := d.entries[tag]
	d.mu.Unlock()
	if exists {
		return nil
	}

	ruleID := rule.ID
	spec := fmt.Sprintf("@every %dm", rule.Retry.AfterMinutes)
	return d.addEntry(tag, spec, func() {
		d.activate(ruleID)
	})
}

// HasEntry reports whether a schedule with the given tag is installed
func (d *Dispatcher) HasEntry(tag string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[tag]
	return ok
}

func (d *Dispatcher) addEntry(tag, spec string, job func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.entries[tag]; ok {
		d.cron.Remove(old)
	}

	id, err := d.cron.AddFunc(spec, job)
	if err != nil {
		delete(d.entries, tag)
		return fmt.Errorf("failed to add schedule %s (%s): %w", tag, spec, err)
	}
	d.entries[tag] = id
	d.logger.Debug().Str("tag", tag).Str("spec", spec).Msg("Installed schedule")
	return nil
}

func (d *Dispatcher) removeEntry(tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.entries[tag]; ok {
		d.cron.Remove(id)
		delete(d.entries, tag)
		d.logger.Debug().Str("tag", tag).Msg("Removed schedule")
	}
}
