package main

import (
	"errors"
	"io"
	"os"

	"github.com/danmuck/pipetctl/internal/config"
	"github.com/danmuck/pipetctl/internal/logging"
	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "pipetctl.toml"

// app is the state shared by every subcommand.
type app struct {
	in      io.Reader
	out     io.Writer
	cfgPath string
	cfg     config.Station
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}
	root := &cobra.Command{
		Use:           "pipetctl",
		Short:         "Magnetic-bead RNA extraction on a liquid-handling robot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			return a.loadConfig(cmd.Flags().Changed("config"))
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultConfigPath, "station config file")

	root.AddCommand(
		a.runCmd(),
		a.recapCmd(),
		a.protocolsCmd(),
		a.serveCmd(),
		a.bridgeCmd(),
		a.configCmd(),
	)
	return root
}

// loadConfig reads the station file, falling back to defaults when the
// implicit path does not exist.
func (a *app) loadConfig(explicit bool) error {
	if !explicit {
		if _, err := os.Stat(a.cfgPath); errors.Is(err, os.ErrNotExist) {
			a.cfg = config.Default()
			return nil
		}
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) registry() (*protocol.Registry, error) {
	return a.cfg.Protocols.Registry()
}

// runFlags override the [run] section for one invocation.
type runFlags struct {
	protocol string
	columns  int
	testMode bool
	dnase    bool
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.protocol, "protocol", "p", "", "protocol id (default from [run])")
	cmd.Flags().IntVarP(&f.columns, "columns", "n", 0, "sample columns, 1-12 (default from [run])")
	cmd.Flags().BoolVar(&f.testMode, "test-mode", false, "shorten delays and mixes")
	cmd.Flags().BoolVar(&f.dnase, "dnase", false, "include the optional DNase treatment")
}

func (f *runFlags) resolve(cmd *cobra.Command, defaults config.RunConfig) config.RunConfig {
	out := defaults
	if cmd.Flags().Changed("protocol") {
		out.Protocol = f.protocol
	}
	if cmd.Flags().Changed("columns") {
		out.Columns = f.columns
	}
	if cmd.Flags().Changed("test-mode") {
		out.TestMode = f.testMode
	}
	if cmd.Flags().Changed("dnase") {
		out.DNase = f.dnase
	}
	return out
}
