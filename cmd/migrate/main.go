package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"moneyman/migrations"
)

var (
	dbPath   string
	provider *goose.Provider
	db       *sql.DB
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the moneyman SQLite schema",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		db, err = sql.Open("sqlite", dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		provider, err = migrations.NewProvider(db)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return db.Close()
	},
}

func init() {
	def := os.Getenv("DATABASE_PATH")
	if def == "" {
		def = "./data/bot.db"
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", def, "path to sqlite database")

	rootCmd.AddCommand(upCmd, upOneCmd, downCmd, statusCmd, versionCmd, resetCmd)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Migrate to the latest version",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := provider.Up(cmd.Context())
		for _, r := range results {
			fmt.Println(r)
		}
		return err
	},
}

var upOneCmd = &cobra.Command{
	Use:   "up-one",
	Short: "Migrate one version up",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := provider.UpByOne(cmd.Context())
		if r != nil {
			fmt.Println(r)
		}
		return err
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back one version",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := provider.Down(cmd.Context())
		if r != nil {
			fmt.Println(r)
		}
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := provider.Status(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-24s %s\n", applied, s.Source.Path)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current version",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := provider.GetDBVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("version %d\n", v)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := provider.DownTo(cmd.Context(), 0)
		for _, r := range results {
			fmt.Println(r)
		}
		return err
	},
}
