package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
)

func newImportCmd(v *viper.Viper) *cobra.Command {
	var (
		collection string
		limit      int
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Export every record of a collection to Typesense in batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.waitForRemote(ctx); err != nil {
				return err
			}
			return runImport(ctx, cmd.OutOrStdout(), a.engine, collection, limit, verbose)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Collection to import")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultBatchLimit, "Records per batch")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "List every imported and failed document")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

// runImport drives a full import and prints progress and a summary to out.
func runImport(ctx context.Context, out io.Writer, importer driving.ImportService, collection string, limit int, verbose bool) error {
	report, err := importer.Import(ctx, collection, limit, func(batch domain.BatchResult, total int) {
		fmt.Fprintf(out, "Batch count=%d of total=%d\n", batch.Count, total)
	})
	if report != nil {
		if verbose {
			printItems(out, "Successes", report.Successes)
			printItems(out, "Errors", report.Failures)
		}
		if terr := printSummary(out, report); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

func printItems(out io.Writer, title string, items []domain.ImportItemResult) {
	fmt.Fprintf(out, "%s (%d):\n", title, len(items))
	for _, item := range items {
		if item.Error != "" {
			fmt.Fprintf(out, "  %s: %s\n", item.ID, item.Error)
			continue
		}
		fmt.Fprintf(out, "  %s\n", item.ID)
	}
}

func printSummary(out io.Writer, report *domain.ImportReport) error {
	table := tablewriter.NewWriter(out)
	table.Header("Statistic", "Value")
	rows := [][]string{
		{"Collection", report.Collection},
		{"Records", strconv.Itoa(report.Total)},
		{"Batches", strconv.Itoa(report.Batches)},
		{"Imported", strconv.Itoa(len(report.Successes))},
		{"Failed", strconv.Itoa(len(report.Failures))},
		{"Skipped", strconv.Itoa(report.Skipped)},
		{"Bytes", strconv.Itoa(report.Bytes)},
		{"Duration", report.Duration.Round(time.Millisecond).String()},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
