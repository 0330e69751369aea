package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-offline/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Print a config value by dotted path, e.g. cache.ttl",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser, err := config.NewParser(cfg)
			if err != nil {
				return err
			}

			value, err := parser.Lookup(pathArg(args))
			if err != nil {
				return err
			}
			return printJSON(value)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys [path]",
		Short: "List the entries of a config section",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser, err := config.NewParser(cfg)
			if err != nil {
				return err
			}

			keys, err := parser.Keys(pathArg(args))
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		},
	})

	return cmd
}

func pathArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return ""
}
