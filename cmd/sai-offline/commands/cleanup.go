package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Evict expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Storage().Close() }()

			removed, err := a.Cache().Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired entries\n", removed)
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	var deadOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop offline snapshots, the action queue and dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Storage().Close() }()

			if deadOnly {
				if err := a.Queue().ClearDeadLetters(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("Dead letters cleared")
				return nil
			}

			if err := a.Engine().ClearOfflineData(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Offline data cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&deadOnly, "dead-letters", false, "only clear dead letters")
	return cmd
}
