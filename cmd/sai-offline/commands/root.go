package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-offline/app"
	"github.com/saiset-co/sai-offline/config"
	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

var (
	configPath string
	offline    bool
	cfg        *types.ServiceConfig
)

func Execute() error {
	root := &cobra.Command{
		Use:           "sai-offline",
		Short:         "Offline-first data layer with a durable sync queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.NewLoader().Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("offline") {
				loaded.Network.InitialConnected = !offline
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults are used when empty)")
	root.PersistentFlags().BoolVar(&offline, "offline", false, "start with the network reported as disconnected")

	root.AddCommand(serveCmd(), demoCmd(), statsCmd(), cleanupCmd(), clearCmd(), configCmd())

	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func newApp(ctx context.Context) (*app.Application, error) {
	return app.New(ctx, cfg)
}

func printJSON(v interface{}) error {
	data, err := utils.MarshalIndent(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
