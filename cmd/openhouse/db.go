package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/openhouse/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBImportCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var (
		configPath string
		noSeed     bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the OpenHouse tables",
		Long:  "Migrates all tables and, unless --no-seed is given, seeds sample listings into an empty properties table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath, cmd.Flags().Changed("config"), !noSeed)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OpenHouse config file")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "skip seeding sample properties")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string, explicit, seed bool) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}
	gormDB, err := connectFromConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)

	if seed {
		n, err := db.SeedProperties(gormDB)
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Fprintf(out, "Seeded %d sample properties\n", n)
		} else {
			fmt.Fprintln(out, "Properties already present, seeding skipped")
		}
	}
	return nil
}

func newDBImportCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import listings from a realtor CSV",
		Long: `Loads a realtor listings CSV into the properties table. The header names the
columns: price, bed, bath, acre_lot, street, city, state, zip_code,
house_size, status. Rows without a price, city or state are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBImport(cmd, configPath, cmd.Flags().Changed("config"), args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OpenHouse config file")
	return cmd
}

func runDBImport(cmd *cobra.Command, configPath string, explicit bool, path string) error {
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}
	gormDB, err := connectFromConfig(cfg)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	stats, err := db.ImportProperties(gormDB, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d properties from %s (%d rows skipped)\n", stats.Imported, path, stats.Skipped)
	return nil
}
