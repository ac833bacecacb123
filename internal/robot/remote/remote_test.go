package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/danmuck/pipetctl/internal/robot/sim"
	"github.com/danmuck/pipetctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func startBridge(t *testing.T) (*Client, *sim.Platform) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	platform := sim.New(sim.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, ln, platform) }()

	client := NewClient(ln.Addr().String(), 2*time.Second)
	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("bridge serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("bridge did not stop")
		}
	})
	return client, platform
}

func TestClientDrivesBridgedPlatform(t *testing.T) {
	testlog.Start(t)
	client, platform := startBridge(t)
	ctx := context.Background()

	reg := labware.NewRegistry()
	plate, err := reg.Load("samples", "fischerbrand_96_wellplate_2000ul", "1")
	require.NoError(t, err)
	well, err := plate.Well("A4")
	require.NoError(t, err)

	require.NoError(t, client.Home(ctx))
	pip := client.Pipette()
	require.False(t, pip.TipAttached())
	require.NoError(t, pip.PickUpTip(ctx))
	require.True(t, pip.TipAttached())
	require.NoError(t, pip.SetFlowRate(ctx, robot.FlowRate{Aspirate: 300, Dispense: 550}))
	require.Equal(t, robot.FlowRate{Aspirate: 300, Dispense: 550}, pip.FlowRate())
	require.NoError(t, pip.Aspirate(ctx, 200, well.Bottom(4), 1))
	require.NoError(t, pip.BlowOut(ctx, well.Top(-2)))
	require.NoError(t, pip.DropTip(ctx))
	require.Equal(t, 300.0, pip.MaxVolume())

	require.NoError(t, client.Magnet().Engage(ctx, 12))
	require.Equal(t, robot.MagnetStatus{Engaged: true, Height: 12}, client.Magnet().Status())
	require.NoError(t, client.Delay(ctx, 90*time.Second))

	stats := platform.Stats()
	require.Equal(t, 1, stats.TipPickUps)
	require.Equal(t, []time.Duration{90 * time.Second}, stats.Delays)

	var blown labware.Location
	for _, cmd := range platform.Journal() {
		if cmd.Op == sim.OpBlowOut {
			blown = cmd.Location
		}
	}
	require.Equal(t, well.Top(-2), blown)
}

func TestCanceledCallStopsWaiting(t *testing.T) {
	testlog.Start(t)
	client, platform := startBridge(t)
	release := make(chan struct{})
	platform.OnPause(func(string) error {
		<-release
		return nil
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()
	start := time.Now()
	err := client.Pause(ctx, "hold")
	require.ErrorIs(t, err, context.Canceled)
	// the client timeout is 2s; only cancellation returns this early
	require.Less(t, time.Since(start), time.Second)

	require.NoError(t, client.Home(context.Background()))
}

func TestSentinelErrorsCrossTheWire(t *testing.T) {
	testlog.Start(t)
	client, _ := startBridge(t)
	ctx := context.Background()

	require.NoError(t, client.Home(ctx))
	err := client.Pipette().DropTip(ctx)
	require.True(t, errors.Is(err, robot.ErrNoTipAttached), "got %v", err)

	err = client.Pipette().SetFlowRate(ctx, robot.FlowRate{})
	require.True(t, errors.Is(err, robot.ErrInvalidFlowRate), "got %v", err)
}

func TestUnknownActionRejected(t *testing.T) {
	testlog.Start(t)
	client, _ := startBridge(t)
	err := client.call(context.Background(), request{Action: "teleport"}, nil)
	require.True(t, errors.Is(err, ErrUnknownAction), "got %v", err)
}

func TestClientRequiresAddr(t *testing.T) {
	testlog.Start(t)
	err := NewClient("  ", time.Second).Home(context.Background())
	require.ErrorIs(t, err, ErrAddrRequired)
}
