package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"shadowrealms_backend/internal/app"
	"shadowrealms_backend/pkg/database"
)

type csvExporter interface {
	ExportCSV(ctx context.Context, w io.Writer) (int, error)
}

// exportFile writes the CSV export to path. A failed close is reported, since
// it can mean the file was cut short.
func exportFile(ctx context.Context, exporter csvExporter, path string) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return exporter.ExportCSV(ctx, f)
}

func init() {
	migrateCommand := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := app.OpenDatabase(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close(db)
			fmt.Println("Database is up to date")
			return nil
		},
	}
	rootCommand.AddCommand(migrateCommand)

	statsCommand := &cobra.Command{
		Use:   "stats",
		Short: "Print subscriber counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Admin.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	rootCommand.AddCommand(statsCommand)

	exportCommand := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the active subscribers as CSV to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				_, err := a.Admin.ExportCSV(cmd.Context(), os.Stdout)
				return err
			}

			n, err := exportFile(cmd.Context(), a.Admin, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d subscribers to %s\n", n, args[0])
			return nil
		},
	}
	rootCommand.AddCommand(exportCommand)

	var confirmed bool
	clearCommand := &cobra.Command{
		Use:   "clear",
		Short: "Delete every subscriber from both stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				fmt.Printf("This deletes every subscriber. Run again with --yes to confirm.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			a, err := app.Bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Admin.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All subscribers deleted")
			return nil
		},
	}
	clearCommand.Flags().BoolVar(&confirmed, "yes", false, "confirm deleting every subscriber")
	rootCommand.AddCommand(clearCommand)

	reconcileCommand := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay subscribers parked in the secondary store into the primary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Subscriptions.Reconcile(cmd.Context())
			fmt.Printf("Replayed %d, duplicates %d, failed %d\n", result.Replayed, result.Duplicates, result.Failed)
			return err
		},
	}
	rootCommand.AddCommand(reconcileCommand)
}
