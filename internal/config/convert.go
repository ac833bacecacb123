package config

import (
	"github.com/danmuck/pipetctl/internal/protocol"
)

// Options converts the [run] section into sequencer run options.
func (r RunConfig) Options() protocol.RunOptions {
	return protocol.RunOptions{
		Columns:  r.Columns,
		TestMode: r.TestMode,
		DNase:    r.DNase,
	}
}

// Registry returns the builtin definitions plus every configured file.
func (p ProtocolsConfig) Registry() (*protocol.Registry, error) {
	reg, err := protocol.Builtin()
	if err != nil {
		return nil, err
	}
	for _, path := range p.Files {
		if _, err := reg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
