package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cactuscomply/tpt-rates/internal/db"
	"github.com/cactuscomply/tpt-rates/internal/ingest"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all subcommands.
type RootOptions struct {
	DatabaseURL string
	BatchSize   int
	DryRun      bool
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rateloader",
		Short: "Arizona TPT rate table loader",
		Long:  "Loads ADOR transaction privilege tax rate CSVs into the versioned rate store.",
	}

	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "db", "", "database URL (defaults to DATABASE_URL)")
	cmd.PersistentFlags().IntVar(&opts.BatchSize, "batch-size", ingest.DefaultBatchSize, "insert batch size")
	cmd.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", false, "run against an in-memory store, write nothing")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

// openStore builds the store the flags ask for. The cleanup func is safe to
// call on every path.
func (o *RootOptions) openStore() (ingest.Store, func(), error) {
	if o.DryRun {
		return ingest.NewMemStore(), func() {}, nil
	}

	_ = godotenv.Load(".env.local")
	dsn := o.DatabaseURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("no database URL: set --db or DATABASE_URL")
	}

	conn, err := db.Connect(dsn)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	}

	store := ingest.NewGormStore(conn)
	if err := store.Migrate(); err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "encode output:", err)
	}
}

func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
