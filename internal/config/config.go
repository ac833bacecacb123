package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrInvalidConfig = errors.New("config: invalid station config")

// Robot drivers.
const (
	DriverSim    = "sim"
	DriverRemote = "remote"
)

// Station is the full pipetctl station config.
type Station struct {
	Run       RunConfig
	Robot     RobotConfig
	Journal   JournalConfig
	HTTP      HTTPConfig
	Protocols ProtocolsConfig
}

// RunConfig holds defaults for `pipetctl run` and POST /runs.
type RunConfig struct {
	Protocol string
	Columns  int
	TestMode bool
	DNase    bool
}

type RobotConfig struct {
	Driver  string
	Addr    string
	Timeout time.Duration
}

type JournalConfig struct {
	Path string
}

type HTTPConfig struct {
	Addr        string
	CorsOrigins []string
	// AuthToken, when set, is required to start or cancel runs.
	AuthToken string
}

// ProtocolsConfig lists definition files loaded next to the builtins.
type ProtocolsConfig struct {
	Files []string
}

type fileConfig struct {
	Run struct {
		Protocol string `toml:"protocol"`
		Columns  int    `toml:"columns"`
		TestMode bool   `toml:"test_mode"`
		DNase    bool   `toml:"dnase"`
	} `toml:"run"`
	Robot struct {
		Driver  string `toml:"driver"`
		Addr    string `toml:"addr"`
		Timeout string `toml:"timeout"`
	} `toml:"robot"`
	Journal struct {
		Path string `toml:"path"`
	} `toml:"journal"`
	HTTP struct {
		Addr        string   `toml:"addr"`
		CorsOrigins []string `toml:"cors_origins"`
		AuthToken   string   `toml:"auth_token"`
	} `toml:"http"`
	Protocols struct {
		Files []string `toml:"files"`
	} `toml:"protocols"`
}

// Default returns a station that runs one test-mode column of bomb-v10 on
// the simulator.
func Default() Station {
	return Station{
		Run: RunConfig{
			Protocol: "bomb-v10",
			Columns:  1,
			TestMode: true,
		},
		Robot: RobotConfig{
			Driver:  DriverSim,
			Addr:    "127.0.0.1:7300",
			Timeout: 10 * time.Second,
		},
		Journal: JournalConfig{Path: "pipetctl.db"},
		HTTP: HTTPConfig{
			Addr:        ":9300",
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load overlays the keys defined in the file at path onto Default.
func Load(path string) (Station, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Station{}, fmt.Errorf("load station config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Station{}, fmt.Errorf("%w: unknown key %s", ErrInvalidConfig, undecoded[0])
	}

	if meta.IsDefined("run", "protocol") {
		cfg.Run.Protocol = strings.TrimSpace(raw.Run.Protocol)
	}
	if meta.IsDefined("run", "columns") {
		cfg.Run.Columns = raw.Run.Columns
	}
	if meta.IsDefined("run", "test_mode") {
		cfg.Run.TestMode = raw.Run.TestMode
	}
	if meta.IsDefined("run", "dnase") {
		cfg.Run.DNase = raw.Run.DNase
	}

	if meta.IsDefined("robot", "driver") {
		cfg.Robot.Driver = strings.ToLower(strings.TrimSpace(raw.Robot.Driver))
	}
	if meta.IsDefined("robot", "addr") {
		cfg.Robot.Addr = strings.TrimSpace(raw.Robot.Addr)
	}
	if meta.IsDefined("robot", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Robot.Timeout))
		if err != nil {
			return Station{}, fmt.Errorf("parse robot.timeout: %w", err)
		}
		cfg.Robot.Timeout = d
	}

	if meta.IsDefined("journal", "path") {
		cfg.Journal.Path = strings.TrimSpace(raw.Journal.Path)
	}

	if meta.IsDefined("http", "addr") {
		cfg.HTTP.Addr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("http", "cors_origins") {
		cfg.HTTP.CorsOrigins = normalize(raw.HTTP.CorsOrigins)
	}

	if meta.IsDefined("http", "auth_token") {
		cfg.HTTP.AuthToken = strings.TrimSpace(raw.HTTP.AuthToken)
	}

	if meta.IsDefined("protocols", "files") {
		cfg.Protocols.Files = normalize(raw.Protocols.Files)
	}

	if err := cfg.Validate(); err != nil {
		return Station{}, err
	}
	return cfg, nil
}

// Validate checks the fields every command relies on. Column bounds and
// protocol ids are checked by the sequencer.
func (s Station) Validate() error {
	if strings.TrimSpace(s.Run.Protocol) == "" {
		return fmt.Errorf("%w: run.protocol is required", ErrInvalidConfig)
	}
	switch s.Robot.Driver {
	case DriverSim:
	case DriverRemote:
		if strings.TrimSpace(s.Robot.Addr) == "" {
			return fmt.Errorf("%w: robot.addr required for the remote driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown robot.driver %q", ErrInvalidConfig, s.Robot.Driver)
	}
	if s.Robot.Timeout < 0 {
		return fmt.Errorf("%w: negative robot.timeout", ErrInvalidConfig)
	}
	if strings.TrimSpace(s.Journal.Path) == "" {
		return fmt.Errorf("%w: journal.path is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(s.HTTP.Addr) == "" {
		return fmt.Errorf("%w: http.addr is required", ErrInvalidConfig)
	}
	return nil
}

func normalize(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
