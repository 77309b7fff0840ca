package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/benchub/pygmy/pkg/rules"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage scaling rules",
}

func init() {
	ruleInstallCmd.Flags().StringP("file", "f", "", "YAML rule definition (required)")
	_ = ruleInstallCmd.MarkFlagRequired("file")

	ruleCmd.AddCommand(ruleInstallCmd)
	ruleCmd.AddCommand(ruleRemoveCmd)
	ruleCmd.AddCommand(ruleListCmd)
}

// ruleSpec is the YAML form of a rule definition
type ruleSpec struct {
	Name      string `yaml:"name"`
	ClusterID string `yaml:"cluster_id"`
	Action    string `yaml:"action"`
	Schedule  struct {
		Type string `yaml:"type"`
		At   string `yaml:"at"`
	} `yaml:"schedule"`
	TargetClass     string   `yaml:"target_class"`
	FallbackClasses []string `yaml:"fallback_classes"`
	Predicates      []struct {
		Metric    string  `yaml:"metric"`
		Op        string  `yaml:"op"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"predicates"`
	Retry *struct {
		AfterMinutes int `yaml:"after_minutes"`
		Max          int `yaml:"max"`
	} `yaml:"retry"`
	Reverse *struct {
		Schedule struct {
			Type string `yaml:"type"`
			At   string `yaml:"at"`
		} `yaml:"schedule"`
	} `yaml:"reverse"`
}

var ruleInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a rule from a YAML definition",
	Long: `Install a scaling rule. When the definition carries a reverse
section, a reverse twin with the inverted action is created alongside it.

Example definition:

  name: shrink-reporting-replicas
  cluster_id: reporting
  action: scale_down
  schedule: {type: daily, at: "02:00"}
  target_class: m5.large
  fallback_classes: [m5a.large, t3.large]
  predicates:
    - {metric: load_average, op: less, threshold: 2.0}
  retry: {after_minutes: 15, max: 3}
  reverse:
    schedule: {type: daily, at: "08:00"}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		filename, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var spec ruleSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}

		ctl, err := newController(ctx)
		if err != nil {
			return err
		}
		defer ctl.close()

		rule := specToRule(&spec)
		var reverse *rules.ReverseSpec
		if spec.Reverse != nil {
			reverse = &rules.ReverseSpec{
				Schedule: types.Schedule{
					Type: types.ScheduleType(spec.Reverse.Schedule.Type),
					At:   spec.Reverse.Schedule.At,
				},
			}
		}

		mgr := rules.NewManager(ctl.store, ctl.dispatcher)
		created, err := mgr.Create(rule, reverse)
		if err != nil {
			return err
		}

		fmt.Printf("Installed rule %s (%s)\n", created.ID, created.Name)
		if created.ReverseID != "" {
			fmt.Printf("Installed reverse rule %s\n", created.ReverseID)
		}
		return nil
	},
}

var ruleRemoveCmd = &cobra.Command{
	Use:   "remove <rule-id>",
	Short: "Remove a rule and its reverse twin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		ctl, err := newController(ctx)
		if err != nil {
			return err
		}
		defer ctl.close()

		mgr := rules.NewManager(ctl.store, ctl.dispatcher)
		if err := mgr.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed rule %s\n", args[0])
		return nil
	},
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		ctl, err := newController(ctx)
		if err != nil {
			return err
		}
		defer ctl.close()

		mgr := rules.NewManager(ctl.store, ctl.dispatcher)
		ruleSet, err := mgr.List()
		if err != nil {
			return err
		}

		for _, r := range ruleSet {
			kind := "primary"
			if r.IsReverse() {
				kind = "reverse"
			}
			retries := ""
			if r.Retry != nil {
				retries = fmt.Sprintf(" retry=%dm x%d", r.Retry.AfterMinutes, r.Retry.Max)
			}
			fmt.Printf("%s  %-8s %-10s cluster=%s %s %s %s%s\n",
				r.ID, kind, r.Action, r.ClusterID,
				strings.ToLower(string(r.Schedule.Type)), r.Schedule.At,
				r.TargetClass, retries)
		}
		return nil
	},
}

func specToRule(spec *ruleSpec) *types.Rule {
	rule := &types.Rule{
		Name:      spec.Name,
		ClusterID: spec.ClusterID,
		Action:    types.RuleAction(spec.Action),
		Schedule: types.Schedule{
			Type: types.ScheduleType(spec.Schedule.Type),
			At:   spec.Schedule.At,
		},
		TargetClass:     spec.TargetClass,
		FallbackClasses: spec.FallbackClasses,
	}
	for _, p := range spec.Predicates {
		rule.Predicates = append(rule.Predicates, types.Predicate{
			Metric:    types.PredicateMetric(p.Metric),
			Op:        types.PredicateOp(p.Op),
			Threshold: p.Threshold,
		})
	}
	if spec.Retry != nil {
		rule.Retry = &types.RetryPolicy{
			AfterMinutes: spec.Retry.AfterMinutes,
			Max:          spec.Retry.Max,
		}
	}
	return rule
}
