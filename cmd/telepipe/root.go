package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"telepipe/internal/config"
)

// commandContext lazily loads configuration shared by all subcommands.
type commandContext struct {
	configFlag *string

	once sync.Once
	cfg  *config.Config
	err  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		cfg, _, exists, err := config.Load(*c.configFlag)
		if err != nil {
			c.err = err
			return
		}
		if !exists && *c.configFlag != "" {
			c.err = fmt.Errorf("config file %s not found", *c.configFlag)
			return
		}
		c.cfg = cfg
	})
	return c.cfg, c.err
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "telepipe",
		Short:         "Telepipe pipeline CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newRunsCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
