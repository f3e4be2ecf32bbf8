package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/listenupapp/listenup-reader/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	v := viper.New()
	ctx := newCommandContext(v, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "reader",
		Short:         "Web novel reader with text-to-speech playback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	config.RegisterFlags(v, rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newBooksCommand(ctx))
	rootCmd.AddCommand(newChaptersCommand(ctx))

	return rootCmd
}
