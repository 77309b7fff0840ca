package rules

import (
	"fmt"
	"regexp"
	"time"

	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var dailyRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Installer is the dispatcher surface the rule lifecycle needs
type Installer interface {
	Install(rule *types.Rule) error
	Uninstall(rule *types.Rule)
}

// Manager owns the admin-path lifecycle of rules: validation, persistence,
// the reverse twin, and schedule installation.
type Manager struct {
	store     storage.Store
	installer Installer
	logger    zerolog.Logger
}

// NewManager creates a rule manager
func NewManager(store storage.Store, installer Installer) *Manager {
	return &Manager{
		store:     store,
		installer: installer,
		logger:    log.WithComponent("rules"),
	}
}

// ReverseSpec describes the optional reverse twin of a new rule
type ReverseSpec struct {
	Schedule types.Schedule
}

// Create validates and persists a rule, creates its reverse twin when
// requested, and installs schedules for both.
func (m *Manager) Create(rule *types.Rule, reverse *ReverseSpec) (*types.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := Validate(rule); err != nil {
		return nil, err
	}

	if reverse != nil {
		twin := &types.Rule{
			ID:        uuid.New().String(),
			Name:      rule.Name,
			ClusterID: rule.ClusterID,
			Action:    rule.Action.Inverse(),
			Schedule:  reverse.Schedule,
			ParentID:  rule.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := Validate(twin); err != nil {
			return nil, fmt.Errorf("reverse rule: %w", err)
		}
		rule.ReverseID = twin.ID

		if err := m.store.CreateRule(twin); err != nil {
			return nil, fmt.Errorf("failed to persist reverse rule: %w", err)
		}
		if err := m.installer.Install(twin); err != nil {
			return nil, fmt.Errorf("failed to install reverse schedule: %w", err)
		}
	}

	if err := m.store.CreateRule(rule); err != nil {
		return nil, fmt.Errorf("failed to persist rule: %w", err)
	}
	if err := m.installer.Install(rule); err != nil {
		return nil, fmt.Errorf("failed to install schedule: %w", err)
	}

	m.logger.Info().
		Str("rule_id", rule.ID).
		Str("cluster_id", rule.ClusterID).
		Str("action", string(rule.Action)).
		Bool("has_reverse", rule.ReverseID != "").
		Msg("Created rule")
	return rule, nil
}

// Delete removes a rule, its schedules, and its reverse twin
func (m *Manager) Delete(id string) error {
	rule, err := m.store.GetRule(id)
	if err != nil {
		return err
	}

	if rule.ReverseID != "" {
		if twin, err := m.store.GetRule(rule.ReverseID); err == nil {
			m.installer.Uninstall(twin)
			if err := m.store.DeleteRule(twin.ID); err != nil {
				return fmt.Errorf("failed to delete reverse rule: %w", err)
			}
		}
	}

	m.installer.Uninstall(rule)
	if err := m.store.DeleteRule(rule.ID); err != nil {
		return err
	}

	m.logger.Info().Str("rule_id", rule.ID).Msg("Deleted rule")
	return nil
}

// Get returns one rule
func (m *Manager) Get(id string) (*types.Rule, error) {
	return m.store.GetRule(id)
}

// List returns every rule
func (m *Manager) List() ([]*types.Rule, error) {
	return m.store.ListRules()
}

// Validate checks a rule definition for the invariants the pipeline
// depends on.
func Validate(rule *types.Rule) error {
	if rule.ClusterID == "" {
		return fmt.Errorf("rule must reference a cluster")
	}
	switch rule.Action {
	case types.ActionScaleDown, types.ActionScaleUp:
	default:
		return fmt.Errorf("unknown action %q", rule.Action)
	}
	if !rule.IsReverse() && rule.TargetClass == "" {
		return fmt.Errorf("rule must name a target instance class")
	}
	if _, err := CronSpec(rule.Schedule); err != nil {
		return err
	}
	for _, p := range rule.Predicates {
		switch p.Metric {
		case types.MetricReplicationLag, types.MetricActiveConnections, types.MetricLoadAverage:
		default:
			return fmt.Errorf("unknown predicate metric %q", p.Metric)
		}
		switch p.Op {
		case types.OpEqual, types.OpGreater, types.OpLess:
		default:
			return fmt.Errorf("unknown predicate operator %q", p.Op)
		}
	}
	if rule.Retry != nil {
		if rule.Retry.AfterMinutes <= 0 || rule.Retry.Max <= 0 {
			return fmt.Errorf("retry policy needs a positive interval and attempt bound")
		}
	}
	return nil
}

// CronSpec converts a rule schedule to a cron expression. A daily "HH:MM"
// becomes "M H * * *"; cron schedules are validated and passed through.
func CronSpec(s types.Schedule) (string, error) {
	switch s.Type {
	case types.ScheduleDaily:
		m := dailyRe.FindStringSubmatch(s.At)
		if m == nil {
			return "", fmt.Errorf("invalid daily time %q, expected HH:MM", s.At)
		}
		return fmt.Sprintf("%s %s * * *", m[2], m[1]), nil
	case types.ScheduleCron:
		if _, err := cronParser.Parse(s.At); err != nil {
			return "", fmt.Errorf("invalid cron expression %q: %w", s.At, err)
		}
		return s.At, nil
	default:
		return "", fmt.Errorf("unknown schedule type %q", s.Type)
	}
}
