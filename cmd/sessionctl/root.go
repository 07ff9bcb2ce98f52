package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/salesbot/internal/config"
	"github.com/zhouzirui/z-tavern/salesbot/internal/store"
)

type app struct {
	repo store.Repository
}

type rootFlags struct {
	driver string
	dbPath string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect and reset stored sales assistant sessions",
		Long:          "sessionctl reads the same storage as the API server and lets operators inspect session snapshots, roll through their history, and reset sessions or demo configurations.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openRepository(cmd, flags)
			if err != nil {
				return err
			}
			a.repo = repo
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a.repo == nil {
				return nil
			}
			return a.repo.Close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.driver, "driver", "", "storage driver override (sqlite, postgres)")
	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "sqlite database path override")

	rootCmd.AddCommand(
		newShowCmd(a),
		newVersionsCmd(a),
		newConfigCmd(a),
		newResetCmd(a),
		newClearConfigsCmd(a),
	)

	return rootCmd
}

func openRepository(cmd *cobra.Command, flags *rootFlags) (store.Repository, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	storage := cfg.Storage
	if flags.driver != "" {
		storage.Driver = flags.driver
	}
	if flags.dbPath != "" {
		storage.Path = flags.dbPath
	}
	if storage.Driver == config.DriverMemory {
		return nil, fmt.Errorf("the memory driver keeps no state between processes, use sqlite or postgres")
	}

	repo, err := store.Open(cmd.Context(), storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", storage.Driver, err)
	}
	return repo, nil
}
