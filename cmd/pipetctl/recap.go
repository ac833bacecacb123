package main

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) recapCmd() *cobra.Command {
	var (
		flags  runFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "recap",
		Short: "Print the deck setup a run needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCfg := flags.resolve(cmd, a.cfg.Run)
			reg, err := a.registry()
			if err != nil {
				return err
			}
			def, err := reg.Resolve(runCfg.Protocol)
			if err != nil {
				return err
			}
			setup, err := protocol.Recap(def, runCfg.Options())
			if err != nil {
				return err
			}
			switch format {
			case "text":
				_, err = fmt.Fprint(a.out, setup.String())
			case "json":
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				err = enc.Encode(setup)
			case "yaml":
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				if err = enc.Encode(setup); err == nil {
					err = enc.Close()
				}
			default:
				return fmt.Errorf("unknown format %q (text|yaml|json)", format)
			}
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text|yaml|json")
	return cmd
}
