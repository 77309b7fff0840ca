package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benchub/pygmy/pkg/calendar"
	"github.com/benchub/pygmy/pkg/cloud"
	"github.com/benchub/pygmy/pkg/config"
	"github.com/benchub/pygmy/pkg/dispatch"
	"github.com/benchub/pygmy/pkg/dns"
	"github.com/benchub/pygmy/pkg/evaluate"
	"github.com/benchub/pygmy/pkg/hooks"
	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/metrics"
	"github.com/benchub/pygmy/pkg/probe"
	"github.com/benchub/pygmy/pkg/scaler"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/topology"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pygmy",
	Short: "Pygmy - Right-sizing controller for database replica fleets",
	Long: `Pygmy resizes the replica nodes of primary/replica database
clusters on a schedule. Scaling rules carry safety predicates that are
checked against live replica health before any instance is touched, and
a paired reverse rule restores the previous size later.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Pygmy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringP("config", "c", "/etc/pygmy/config.yaml", "Configuration file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyRuleCmd)
	rootCmd.AddCommand(ruleCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// controller wires the full pipeline for a command invocation
type controller struct {
	cfg        *config.Config
	store      storage.Store
	dispatcher *dispatch.Dispatcher
}

func newController(ctx context.Context) (*controller, error) {
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	adapter, err := cloud.NewEC2Adapter(ctx, cfg.Regions)
	if err != nil {
		store.Close()
		return nil, err
	}

	prober := probe.NewPostgresProber(store, cfg.Probe.Port, cfg.Probe.Database,
		time.Duration(cfg.Probe.ConnectTimeout)*time.Second)
	prognosticator := hooks.NewScriptPrognosticator(cfg.Scripts.Prognostication)
	pager := hooks.NewScriptPager(cfg.Scripts.Pager)
	updater := hooks.NewScriptDNSUpdater(cfg.Scripts.DNSUpdater, store)

	view := topology.NewView(store, cfg.FleetTagKey, cfg.FleetTagValue, cfg.Regions)
	evaluator := evaluate.NewEvaluator(prober)
	sc := scaler.New(adapter, store, prognosticator, pager, cfg.StopTimeout(), cfg.StartTimeout())
	steerer := dns.NewSteerer(updater)
	cal := calendar.New(store)

	dispatcher := dispatch.New(store, view, evaluator, sc, steerer, cal)

	return &controller{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
	}, nil
}

func (c *controller) close() {
	if err := c.store.Close(); err != nil {
		log.Errorf("Failed to close store", err)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller",
	Long: `Run the controller: reconcile schedules against the persisted
rule set, start the dispatcher, and serve metrics until interrupted.`,
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

		if err := ctl.dispatcher.Reconcile(); err != nil {
			return err
		}
		ctl.dispatcher.Start()

		go func() {
			if err := metrics.Serve(ctl.cfg.MetricsAddr); err != nil {
				log.Errorf("Metrics listener failed", err)
			}
		}()
		log.Logger.Info().Str("metrics_addr", ctl.cfg.MetricsAddr).Msg("Controller running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("Shutting down")
		ctl.dispatcher.Stop()
		return nil
	},
}

var applyRuleCmd = &cobra.Command{
	Use:   "apply-rule <rule-id>",
	Short: "Run one rule activation now",
	Long: `Run a single activation of the given rule, exactly as the
scheduler would. Exits 0 on success or benign suppression, non-zero on a
pipeline error (which also schedules a retry).`,
	Args: cobra.ExactArgs(1),
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

		rule, err := ctl.store.GetRule(args[0])
		if err != nil {
			return err
		}

		return ctl.dispatcher.Apply(ctx, rule)
	},
}
