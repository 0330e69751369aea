package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-offline/app"
	"github.com/saiset-co/sai-offline/remote"
	"github.com/saiset-co/sai-offline/repository"
	"github.com/saiset-co/sai-offline/types"
)

func demoCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through an online fetch, offline writes and the replay on reconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Network.InitialConnected = true

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Start(); err != nil {
				return err
			}
			defer func() { _ = a.Stop() }()

			return runDemo(cmd.Context(), a, wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the replay to finish")
	return cmd
}

func runDemo(ctx context.Context, a *app.Application, wait time.Duration) error {
	if sim, ok := a.Provider().(*remote.Simulated); ok {
		sim.Seed(
			types.Coach{ID: "coach-1", Name: "Ada Lovelace", Specialties: []string{"career"}, Rating: 4.9, Available: true},
			types.Coach{ID: "coach-2", Name: "Grace Hopper", Specialties: []string{"leadership"}, Rating: 4.8},
			types.Conversation{ID: "conv-1", Title: "Kickoff", ParticipantIDs: []string{"user-1", "coach-1"}},
		)
	}

	done := make(chan types.SyncEvent, 1)
	id := a.Engine().AddSyncListener(func(event types.SyncEvent) {
		fmt.Printf("  sync %s: processed=%d succeeded=%d retained=%d dead=%d\n",
			event.Type, event.Processed, event.Succeeded, event.Retained, event.DeadLettered)
		if event.Type != types.SyncEventStarted && event.Processed > 0 {
			select {
			case done <- event:
			default:
			}
		}
	})
	defer a.Engine().RemoveSyncListener(id)

	opts := repository.DefaultFetchOptions()

	coaches, err := a.Repository().FetchEntities(ctx, types.EntityCoach, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Online: fetched %d coaches from remote\n", len(coaches))

	a.Network().SetConnected(false, types.TransportNone)
	fmt.Println("Network lost")

	coaches, err = a.Repository().FetchEntities(ctx, types.EntityCoach, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Offline: %d coaches served from the offline snapshot\n", len(coaches))

	found, err := a.Repository().SearchEntities(ctx, "ada", repository.SearchFilters{EntityType: types.EntityCoach}, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Offline: search \"ada\" matched %d coach(es)\n", len(found))

	if _, err := a.Repository().CreateEntity(ctx, types.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Content:        "Written while offline",
		SentAt:         time.Now(),
	}); err != nil {
		return err
	}
	if _, err := a.Repository().UpdateEntity(ctx, types.Coach{ID: "coach-2", Name: "Grace Hopper", Available: true}); err != nil {
		return err
	}

	pending, err := a.Engine().PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Offline: %d action(s) queued\n", pending)

	a.Network().SetConnected(true, types.TransportWifi)
	fmt.Println("Network restored")

	select {
	case <-done:
	case <-time.After(wait):
		fmt.Println("Replay did not finish in time")
	case <-ctx.Done():
		return ctx.Err()
	}
	a.Engine().Wait()

	pending, err = a.Engine().PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("After replay: %d action(s) pending, last sync %s\n",
		pending, a.Engine().LastSyncTime().Format(time.RFC3339))

	report, err := collectStats(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(report)
}
