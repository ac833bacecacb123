package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/pipetctl/internal/robot/remote"
	"github.com/danmuck/pipetctl/internal/robot/sim"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) bridgeCmd() *cobra.Command {
	var (
		listen   string
		protocol string
	)
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Expose a simulated robot to remote drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("listen") {
				listen = a.cfg.Robot.Addr
			}
			if !cmd.Flags().Changed("protocol") {
				protocol = a.cfg.Run.Protocol
			}
			reg, err := a.registry()
			if err != nil {
				return err
			}
			def, err := reg.Resolve(protocol)
			if err != nil {
				return err
			}
			hw, err := def.Hardware()
			if err != nil {
				return err
			}
			platform := sim.New(simConfig(hw))
			platform.OnPause(func(msg string) error {
				log.Info().Str("message", msg).Msg("bridge pause resumed")
				return nil
			})

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info().Str("sized_for", def.ID).Msg("bridge platform ready")
			if err := remote.Serve(ctx, ln, platform); err != nil {
				return err
			}
			stats := platform.Stats()
			log.Info().
				Int("tip_pickups", stats.TipPickUps).
				Int("transfers", stats.Transfers).
				Dur("elapsed", stats.Elapsed).
				Msg("bridge stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default robot.addr)")
	cmd.Flags().StringVar(&protocol, "protocol", "", "protocol whose hardware sizes the simulator")
	return cmd
}
