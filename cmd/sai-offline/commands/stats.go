package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-offline/app"
	"github.com/saiset-co/sai-offline/types"
)

type statsReport struct {
	Cache       types.CacheStats      `json:"cache"`
	Pending     []types.OfflineAction `json:"pending"`
	DeadLetters []types.DeadLetter    `json:"dead_letters"`
	Network     types.NetworkState    `json:"network"`
	Health      types.HealthReport    `json:"health"`
	Jobs        []types.JobEntry      `json:"jobs,omitempty"`
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache, queue and health statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Storage().Close() }()

			report, err := collectStats(cmd.Context(), a)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func collectStats(ctx context.Context, a *app.Application) (statsReport, error) {
	var report statsReport
	var err error

	if report.Cache, err = a.Cache().Stats(ctx); err != nil {
		return report, err
	}
	if report.Pending, err = a.Engine().PendingActions(ctx); err != nil {
		return report, err
	}
	if report.DeadLetters, err = a.Engine().DeadLetters(ctx); err != nil {
		return report, err
	}

	report.Network = a.Engine().GetNetworkStatus()
	report.Health = a.Health().Check(ctx)
	if a.Scheduler() != nil {
		report.Jobs = a.Scheduler().Jobs()
	}

	return report, nil
}
