package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/pipetctl/internal/auth"
	"github.com/danmuck/pipetctl/internal/journal"
	"github.com/danmuck/pipetctl/internal/station"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the station HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTP.Addr = addr
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			store, err := journal.Open(a.cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			testMode, dnase := a.cfg.Run.TestMode, a.cfg.Run.DNase
			var validator auth.Validator
			if a.cfg.HTTP.AuthToken != "" {
				validator = auth.StaticToken{Token: a.cfg.HTTP.AuthToken}
			}
			st := station.New(station.Config{
				Auth:        validator,
				Name:        "pipetctl",
				CorsOrigins: a.cfg.HTTP.CorsOrigins,
				Defaults: station.RunRequest{
					Protocol: a.cfg.Run.Protocol,
					Columns:  a.cfg.Run.Columns,
					TestMode: &testMode,
					DNase:    &dnase,
				},
			}, reg, store, platformFactory(a.cfg.Robot, nil))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info().
				Str("driver", a.cfg.Robot.Driver).
				Str("journal", store.Path()).
				Msg("station starting")
			return st.Serve(ctx, a.cfg.HTTP.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from [http])")
	return cmd
}
