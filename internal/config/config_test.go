package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/danmuck/pipetctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[run]
protocol = " md-v8 "
columns = 6

[robot]
driver = "REMOTE"
addr = "10.0.0.7:7300"
timeout = "45s"

[http]
cors_origins = [" http://lab.local ", ""]
auth_token = " s3cret "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Run.Protocol != "md-v8" {
		t.Fatalf("unexpected protocol: %q", cfg.Run.Protocol)
	}
	if cfg.Run.Columns != 6 {
		t.Fatalf("unexpected columns: %d", cfg.Run.Columns)
	}
	// undefined keys keep their defaults
	if !cfg.Run.TestMode {
		t.Fatalf("expected test mode default to survive")
	}
	if cfg.Robot.Driver != DriverRemote || cfg.Robot.Addr != "10.0.0.7:7300" {
		t.Fatalf("unexpected robot: %+v", cfg.Robot)
	}
	if cfg.Robot.Timeout != 45*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Robot.Timeout)
	}
	if cfg.Journal.Path != "pipetctl.db" {
		t.Fatalf("unexpected journal path: %q", cfg.Journal.Path)
	}
	if cfg.HTTP.Addr != ":9300" {
		t.Fatalf("unexpected http addr: %q", cfg.HTTP.Addr)
	}
	require.Equal(t, []string{"http://lab.local"}, cfg.HTTP.CorsOrigins)
	require.Equal(t, "s3cret", cfg.HTTP.AuthToken)

	opts := cfg.Run.Options()
	require.Equal(t, protocol.RunOptions{Columns: 6, TestMode: true}, opts)
}

func TestLoadRejectsInvalidStation(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown driver": "[robot]\ndriver = \"serial\"\n",
		"remote no addr": "[robot]\ndriver = \"remote\"\naddr = \"\"\n",
		"empty protocol": "[run]\nprotocol = \"\"\n",
		"unknown key":    "[run]\nspeed = 3\n",
		"empty journal":  "[journal]\npath = \" \"\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		require.ErrorIs(t, err, ErrInvalidConfig, name)
	}

	_, err := Load(writeConfig(t, "[robot]\ntimeout = \"soon\"\n"))
	require.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"station", "remote"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		require.NoError(t, WriteTemplate(path, kind, false))
		require.Error(t, WriteTemplate(path, kind, false))
		require.NoError(t, WriteTemplate(path, kind, true))

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		reg, err := cfg.Protocols.Registry()
		require.NoError(t, err)
		_, err = reg.Resolve(cfg.Run.Protocol)
		require.NoError(t, err, kind)
	}
	_, err := Template("ghost")
	require.Error(t, err)
}

func TestProtocolFilesJoinBuiltins(t *testing.T) {
	testlog.Start(t)
	def := filepath.Join(t.TempDir(), "local.toml")
	body := `id = "local-rinse"
title = "Local rinse"

[pipette]
model = "p300_multi_gen2"
mount = "left"
max_volume = 300
tip_racks = ["tips"]

[[labware]]
label = "samples"
load_name = "fischerbrand_96_wellplate_2000ul"
slot = "1"
role = "samples"

[[labware]]
label = "tips"
load_name = "opentrons_96_tiprack_300ul"
slot = "2"
role = "tips"

[[steps]]
kind = "comment"
phase = "transfer"
message = "rinse"
`
	require.NoError(t, os.WriteFile(def, []byte(body), 0o600))

	reg, err := ProtocolsConfig{Files: []string{def}}.Registry()
	require.NoError(t, err)
	_, err = reg.Resolve("local-rinse")
	require.NoError(t, err)
	_, err = reg.Resolve("bomb-v10")
	require.NoError(t, err)
}
