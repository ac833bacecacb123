package main

import (
	"fmt"

	"github.com/danmuck/pipetctl/internal/config"
	"github.com/danmuck/pipetctl/internal/logging"
	"github.com/spf13/cobra"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate station config files",
		// templates must be writable over a broken config
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			return nil
		},
	}

	var (
		kind  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := defaultConfigPath
			if len(args) == 1 {
				target = args[0]
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s config template to %s\n", kind, target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "station", "template kind: station|remote")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a config file and its protocol files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := a.cfgPath
			if len(args) == 1 {
				target = args[0]
			}
			cfg, err := config.Load(target)
			if err != nil {
				return err
			}
			reg, err := cfg.Protocols.Registry()
			if err != nil {
				return err
			}
			if _, err := reg.Resolve(cfg.Run.Protocol); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "validated config at %s (%d protocols)\n", target, len(reg.List()))
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
