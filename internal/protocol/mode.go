package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/pipetctl/internal/motion"
)

// Mode scales incubations and mixing for a run. It is fixed when the run
// starts.
type Mode struct {
	TestMode bool
}

const (
	testDelayFactor    = 100
	testDelayFloor     = time.Second
	testMixRepetitions = 2
)

// Delay returns the incubation to wait. In test mode an explicit test
// duration wins, otherwise production is cut to 1% with a 1 s floor.
func (m Mode) Delay(production, test Duration) time.Duration {
	if !m.TestMode {
		return production.Duration
	}
	if test.Duration > 0 {
		return test.Duration
	}
	if production.Duration <= 0 {
		return 0
	}
	return max(production.Duration/testDelayFactor, testDelayFloor)
}

// Repetitions returns the mix count to run.
func (m Mode) Repetitions(production, test int) int {
	if !m.TestMode {
		return production
	}
	if test > 0 {
		return test
	}
	return min(production, testMixRepetitions)
}

func parseIntensity(raw string) (motion.Intensity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "full", "":
		return motion.Full, nil
	case "lite":
		return motion.Lite, nil
	default:
		return 0, fmt.Errorf("unknown intensity %q", raw)
	}
}
