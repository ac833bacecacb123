package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/pipetctl/internal/journal"
	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/danmuck/pipetctl/internal/robot/remote"
	"github.com/danmuck/pipetctl/internal/robot/sim"
	"github.com/danmuck/pipetctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type harness struct {
	dir     string
	cfgPath string
	journal string
}

func newHarness(t *testing.T, robot string) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:     dir,
		cfgPath: filepath.Join(dir, "pipetctl.toml"),
		journal: filepath.Join(dir, "journal.db"),
	}
	body := fmt.Sprintf(`[run]
protocol = "bomb-v10"
columns = 1
test_mode = true

[journal]
path = %q
%s`, h.journal, robot)
	if err := os.WriteFile(h.cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return h
}

func (h *harness) exec(stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd(strings.NewReader(stdin), &out)
	root.SetArgs(append([]string{"--config", h.cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *harness) runs(t *testing.T) []journal.Run {
	t.Helper()
	store, err := journal.Open(h.journal)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	return runs
}

func TestProtocolsCommand(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	out, err := h.exec("", "protocols")
	if err != nil {
		t.Fatalf("unexpected protocols error: %v", err)
	}
	for _, id := range []string{"bomb-dnase", "bomb-v10", "md-v8", "rnadvance-viral-xp-v1"} {
		require.Contains(t, out, id)
	}
	require.Contains(t, out, "1-7")
}

func TestRecapFormats(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")

	out, err := h.exec("", "recap", "-n", "3", "--format", "yaml")
	require.NoError(t, err)
	var setup protocol.Setup
	require.NoError(t, yaml.Unmarshal([]byte(out), &setup))
	require.Equal(t, "bomb-v10", setup.Protocol)
	require.Equal(t, 3, setup.Columns)
	require.NotEmpty(t, setup.Containers)

	out, err = h.exec("", "recap", "-p", "md-v8", "--format", "json")
	require.NoError(t, err)
	require.Contains(t, out, `"protocol": "md-v8"`)

	out, err = h.exec("", "recap")
	require.NoError(t, err)
	require.Contains(t, out, "Setup recap:")

	_, err = h.exec("", "recap", "--format", "xml")
	require.Error(t, err)
	_, err = h.exec("", "recap", "-n", "13")
	require.ErrorIs(t, err, protocol.ErrRunOptions)
}

func TestRunCommandOnSimulator(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")

	out, err := h.exec(strings.Repeat("\n", 8), "run", "-p", "bomb-dnase", "--dnase")
	if err != nil {
		t.Fatalf("unexpected run error: %v\n%s", err, out)
	}
	require.Contains(t, out, "PAUSED: Please place plate on tempdeck")
	require.Contains(t, out, "phases")
	require.NotContains(t, out, "skipped\n")

	runs := h.runs(t)
	require.Len(t, runs, 1)
	require.Equal(t, journal.StatusSucceeded, runs[0].Status)
	require.True(t, runs[0].DNase)
	require.NotNil(t, runs[0].Report)
	require.Zero(t, runs[0].Report.Skipped)
}

func TestRunCommandRejectsColumnsBeforeJournal(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	_, err := h.exec("", "run", "-n", "13", "-y")
	require.ErrorIs(t, err, protocol.ErrRunOptions)
	_, statErr := os.Stat(h.journal)
	require.True(t, os.IsNotExist(statErr))

	_, err = h.exec("", "run", "-p", "centrifuge", "-y")
	require.ErrorIs(t, err, protocol.ErrUnknownProtocol)
}

func TestRunCommandOverRemoteDriver(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	platform := sim.New(sim.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- remote.Serve(ctx, ln, platform) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := newHarness(t, fmt.Sprintf("\n[robot]\ndriver = \"remote\"\naddr = %q\ntimeout = \"5s\"\n", ln.Addr().String()))
	out, err := h.exec("", "run", "-y")
	if err != nil {
		t.Fatalf("unexpected remote run error: %v\n%s", err, out)
	}
	require.Equal(t, []string{"A1"}, platform.Touched("pcr"))
	require.False(t, platform.Pipette().TipAttached())

	runs := h.runs(t)
	require.Len(t, runs, 1)
	require.Equal(t, platform.Stats().Transfers, runs[0].Report.Transfers)
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	target := filepath.Join(h.dir, "station.toml")

	out, err := h.exec("", "config", "init", target)
	require.NoError(t, err)
	require.Contains(t, out, "wrote station config template")
	_, err = h.exec("", "config", "init", target)
	require.Error(t, err)
	_, err = h.exec("", "config", "init", "--kind", "remote", "--force", target)
	require.NoError(t, err)

	out, err = h.exec("", "config", "validate", target)
	require.NoError(t, err)
	require.Contains(t, out, "4 protocols")

	require.NoError(t, os.WriteFile(target, []byte("[robot]\ndriver = \"serial\"\n"), 0o600))
	_, err = h.exec("", "config", "validate", target)
	require.Error(t, err)
}
