package main

import (
	"github.com/danmuck/pipetctl/internal/config"
	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/danmuck/pipetctl/internal/robot/remote"
	"github.com/danmuck/pipetctl/internal/robot/sim"
)

func simConfig(hw protocol.Hardware) sim.Config {
	return sim.Config{
		MaxVolume:   hw.MaxVolume,
		TipCapacity: hw.TipCapacity,
		TipRacks:    hw.TipRacks,
	}
}

// platformFactory opens the configured robot driver. Simulators are sized
// from the protocol; onPause, when set, is installed on them.
func platformFactory(cfg config.RobotConfig, onPause func(string) error) func(protocol.Hardware) (robot.Platform, func() error, error) {
	return func(hw protocol.Hardware) (robot.Platform, func() error, error) {
		if cfg.Driver == config.DriverRemote {
			client := remote.NewClient(cfg.Addr, cfg.Timeout)
			return client, client.Close, nil
		}
		platform := sim.New(simConfig(hw))
		if onPause != nil {
			platform.OnPause(onPause)
		}
		return platform, nil, nil
	}
}
