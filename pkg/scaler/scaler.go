package scaler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benchub/pygmy/pkg/cloud"
	"github.com/benchub/pygmy/pkg/hooks"
	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/metrics"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrScaleInProgress means another activation already holds the
	// instance; the caller skips this node without queueing.
	ErrScaleInProgress = errors.New("scale already in progress")
)

const (
	startAttempts     = 3
	startAttemptDelay = 1 * time.Second

	pageTitleRestartFailed = "failed to restart replica after resize"
	pageTitleRevertFailed  = "failed to revert replica after resize"
	pageContext            = "Please make sure all replicas are running at an appropriate size, and that DNS entries are appropriate after streaming has caught up"
)

// Request describes one resize to drive
type Request struct {
	Node            *types.Node
	TargetClass     string
	FallbackClasses []string
	// ClusterName enables prognostication; the reverse path leaves it
	// empty and the proposal is used as-is.
	ClusterName string
}

// Scaler drives a single node through stop → modify → start, walking the
// fallback ladder on class rejections and reverting to the previous class
// when the ladder is exhausted. At most one run may be active per instance
// id; the keyed lock table enforces that.
type Scaler struct {
	adapter cloud.Adapter
	store   storage.Store
	prog    hooks.Prognosticator
	pager   hooks.Pager
	locks   *lockTable

	stopTimeout  time.Duration
	startTimeout time.Duration

	logger zerolog.Logger
}

// New creates a scaler
func New(adapter cloud.Adapter, store storage.Store, prog hooks.Prognosticator, pager hooks.Pager, stopTimeout, startTimeout time.Duration) *Scaler {
	return &Scaler{
		adapter:      adapter,
		store:        store,
		prog:         prog,
		pager:        pager,
		locks:        newLockTable(),
		stopTimeout:  stopTimeout,
		startTimeout: startTimeout,
		logger:       log.WithComponent("scaler"),
	}
}

// Scale runs the full state machine for one node. On success the node
// record's class fields are committed (best effort); on failure they are
// left untouched and the error describes the terminal state.
func (s *Scaler) Scale(ctx context.Context, req *Request) error {
	node := req.Node
	if !s.locks.tryAcquire(node.InstanceID) {
		return fmt.Errorf("%w for %s", ErrScaleInProgress, node.InstanceID)
	}
	defer s.locks.release(node.InstanceID)

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScaleDuration)

	previous := node.InstanceClass
	logger := s.logger.With().
		Str("instance_id", node.InstanceID).
		Str("previous_class", previous).
		Logger()

	effective := req.TargetClass
	if req.ClusterName != "" {
		effective = s.prog.Prognosticate(ctx, req.ClusterName, req.TargetClass)
	}

	logger.Info().
		Str("target_class", effective).
		Msg("Scaling instance")

	// Stop failures abort before any modify has happened; nothing to
	// revert.
	if err := s.stopNode(ctx, node); err != nil {
		metrics.ScalesTotal.WithLabelValues("stop_failed").Inc()
		return fmt.Errorf("failed to stop instance for scaling: %w", err)
	}

	ladder := append([]string{effective}, req.FallbackClasses...)
	var fatal error
	for i, class := range ladder {
		if i > 0 {
			metrics.FallbacksUsed.Inc()
			logger.Info().Str("fallback_class", class).Msg("Trying fallback instance class")
		}

		outcome, err := s.attempt(ctx, node, class)
		switch outcome {
		case attemptOK:
			s.commit(node, previous, class)
			metrics.ScalesTotal.WithLabelValues("success").Inc()
			logger.Info().Str("effective_class", class).Msg("Scale complete")
			return nil
		case attemptNextFallback:
			logger.Warn().Err(err).Str("instance_class", class).Msg("Class attempt failed, continuing down the ladder")
			continue
		case attemptFatal:
			fatal = err
		}
		break
	}

	if fatal == nil {
		fatal = fmt.Errorf("no more fallback instance types to try")
		logger.Error().Msg("Fallback ladder exhausted, reverting to previous class")
		s.page(ctx, node, pageTitleRestartFailed)
	}

	metrics.ScalesTotal.WithLabelValues("failed").Inc()
	if err := s.revert(ctx, node, previous); err != nil {
		// The node may be left stopped; a human is on the way.
		return fmt.Errorf("scale failed (%v) and revert failed: %w", fatal, err)
	}
	return fmt.Errorf("scale failed, reverted to %s: %w", previous, fatal)
}

type attemptOutcome int

const (
	attemptOK attemptOutcome = iota
	attemptNextFallback
	attemptFatal
)

// attempt drives modify → start → wait-running for one class on an
// already-stopped instance.
func (s *Scaler) attempt(ctx context.Context, node *types.Node, class string) (attemptOutcome, error) {
	result, err := s.adapter.Modify(ctx, node.Region, node.InstanceID, class)
	switch result {
	case cloud.ModifyNeedFallback:
		return attemptNextFallback, err
	case cloud.ModifyFatal:
		return attemptFatal, err
	}

	if err := s.startNode(ctx, node); err != nil {
		// The control plane is eventually consistent; a start that keeps
		// failing right after a modify usually means this class cannot
		// come up here. Let the next fallback have a go.
		return attemptNextFallback, err
	}

	if err := s.adapter.WaitRunning(ctx, node.Region, node.InstanceID, s.startTimeout); err != nil {
		s.page(ctx, node, pageTitleRestartFailed)
		return attemptFatal, fmt.Errorf("instance did not reach running after resize: %w", err)
	}
	return attemptOK, nil
}

func (s *Scaler) stopNode(ctx context.Context, node *types.Node) error {
	if err := s.adapter.Stop(ctx, node.Region, node.InstanceID); err != nil {
		return err
	}
	return s.adapter.WaitStopped(ctx, node.Region, node.InstanceID, s.stopTimeout)
}

// startNode retries the start call a few times; the provider may
// transiently reject a start that immediately follows a modify.
func (s *Scaler) startNode(ctx context.Context, node *types.Node) error {
	var err error
	for i := 0; i < startAttempts; i++ {
		if err = s.adapter.Start(ctx, node.Region, node.InstanceID); err == nil {
			return nil
		}
		s.logger.Warn().Err(err).
			Str("instance_id", node.InstanceID).
			Int("attempts_left", startAttempts-i-1).
			Msg("Failed to start instance after resize, will retry")

		select {
		case <-time.After(startAttemptDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to start instance after %d attempts: %w", startAttempts, err)
}

// revert makes one best-effort pass back to the previous class
func (s *Scaler) revert(ctx context.Context, node *types.Node, previous string) error {
	metrics.RevertsTotal.Inc()
	s.logger.Info().
		Str("instance_id", node.InstanceID).
		Str("previous_class", previous).
		Msg("Reverting instance to previous class")

	result, err := s.adapter.Modify(ctx, node.Region, node.InstanceID, previous)
	if result != cloud.ModifyAccepted {
		s.page(ctx, node, pageTitleRevertFailed)
		return fmt.Errorf("revert modify: %w", err)
	}
	if err := s.startNode(ctx, node); err != nil {
		s.page(ctx, node, pageTitleRevertFailed)
		return fmt.Errorf("revert start: %w", err)
	}
	if err := s.adapter.WaitRunning(ctx, node.Region, node.InstanceID, s.startTimeout); err != nil {
		s.page(ctx, node, pageTitleRevertFailed)
		return fmt.Errorf("revert wait: %w", err)
	}
	return nil
}

// commit records the scale on the node record. Only the holder of the
// instance lock may advance the class fields; the next topology sync
// reconciles if the write is lost.
func (s *Scaler) commit(node *types.Node, previous, effective string) {
	if !s.locks.holds(node.InstanceID) {
		s.logger.Error().
			Str("instance_id", node.InstanceID).
			Msg("Refusing class commit without the instance lock")
		return
	}

	node.InstanceClass = effective
	node.LastInstanceClass = previous
	if err := s.store.UpdateNode(node); err != nil {
		s.logger.Warn().Err(err).
			Str("instance_id", node.InstanceID).
			Msg("Failed to record new instance class, the next sync will pick it up")
	}
}

// page asks a human to step in, enriching the message with the node's
// name and region when known. Pager failure is logged and surfaced by the
// hook itself; the scale outcome is already decided at that point.
func (s *Scaler) page(ctx context.Context, node *types.Node, title string) {
	metrics.PagesTotal.Inc()

	host := node.InstanceID
	region := node.Region
	if node.Name != "" {
		host = node.Name
	}
	if region == "" {
		region = "unknown region"
	}
	details := fmt.Sprintf("Instance: %s, region: %s. %s", node.InstanceID, region, pageContext)

	if err := s.pager.Page(ctx, host, title, details); err != nil {
		s.logger.Error().Err(err).
			Str("instance_id", node.InstanceID).
			Msg("Pager invocation failed")
	}
}
