package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
)

func newSyncCmd(v *viper.Viper) *cobra.Command {
	var (
		collection  string
		repeatHours int
		limit       int
		retry       bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Queue a background sync of a collection",
		Long: `Queue a cursor-0 sync task for a collection. A running worker exports
the collection one batch per task. With --repeat-hours the run starts again
after the given number of hours once it completes. --retry resumes a failed
run from its stored cursor instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if repeatHours < 0 || limit < 0 {
				return fmt.Errorf("%w: repeat-hours and limit must not be negative", domain.ErrInvalidInput)
			}
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var task *domain.Task
			if retry {
				task, err = a.runner.Retry(cmd.Context(), collection)
			} else {
				task, err = a.runner.Enqueue(cmd.Context(), collection, repeatHours, limit)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s for collection %s\n", task.ID, collection)
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Collection to sync")
	cmd.Flags().IntVar(&repeatHours, "repeat-hours", 0, "Repeat the sync every N hours after it completes")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultBatchLimit, "Records per batch")
	cmd.Flags().BoolVar(&retry, "retry", false, "Resume the last failed sync of the collection")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:   version,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if format == "json" {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sercha-typesense %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format (json)")
	return cmd
}
