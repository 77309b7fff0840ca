package main

import (
	"context"
	"fmt"

	"github.com/benchub/pygmy/pkg/cloud"
	"github.com/benchub/pygmy/pkg/config"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the instance-class catalog",
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogRefreshCmd)
	catalogCmd.AddCommand(catalogListCmd)
}

var catalogRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the instance-class catalog from the provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		configPath, _ := rootCmd.PersistentFlags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		adapter, err := cloud.NewEC2Adapter(ctx, cfg.Regions)
		if err != nil {
			return err
		}

		total := 0
		for _, region := range cfg.Regions {
			classes, err := adapter.ListClasses(ctx, region)
			if err != nil {
				return fmt.Errorf("region %s: %w", region, err)
			}
			if err := store.PutInstanceClasses(classes); err != nil {
				return err
			}
			total += len(classes)
		}

		fmt.Printf("Refreshed %d instance classes across %d region(s)\n", total, len(cfg.Regions))
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known instance classes",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := rootCmd.PersistentFlags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		classes, err := store.ListInstanceClasses()
		if err != nil {
			return err
		}

		for _, c := range classes {
			fmt.Printf("%-20s %4d vCPU %8d MiB  %s\n", c.Name, c.VCPU, c.MemoryMiB, c.Architecture)
		}
		return nil
	},
}
