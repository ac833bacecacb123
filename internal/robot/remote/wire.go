package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
)

var (
	ErrRemote        = errors.New("remote: platform error")
	ErrAddrRequired  = errors.New("remote: bridge addr required")
	ErrUnknownAction = errors.New("remote: unknown action")
)

const (
	actionHome         = "home"
	actionComment      = "comment"
	actionPause        = "pause"
	actionDelay        = "delay"
	actionPickUpTip    = "pick_up_tip"
	actionPickUpTipAt  = "pick_up_tip_at"
	actionDropTip      = "drop_tip"
	actionReturnTip    = "return_tip"
	actionTipAttached  = "tip_attached"
	actionAspirate     = "aspirate"
	actionDispense     = "dispense"
	actionMix          = "mix"
	actionBlowOut      = "blow_out"
	actionTransfer     = "transfer"
	actionMoveTo       = "move_to"
	actionSetFlowRate  = "set_flow_rate"
	actionFlowRate     = "flow_rate"
	actionMaxVolume    = "max_volume"
	actionEngage       = "engage"
	actionDisengage    = "disengage"
	actionMagnetStatus = "magnet_status"
)

// request is one platform call envelope, one JSON object per line.
type request struct {
	Action      string                `json:"action"`
	Volume      float64               `json:"volume,omitempty"`
	Location    labware.Location      `json:"location,omitempty"`
	Dest        labware.Location      `json:"dest,omitempty"`
	Rate        float64               `json:"rate,omitempty"`
	Repetitions int                   `json:"repetitions,omitempty"`
	FlowRate    robot.FlowRate        `json:"flow_rate,omitempty"`
	Duration    time.Duration         `json:"duration,omitempty"`
	Height      float64               `json:"height,omitempty"`
	Tip         labware.Well          `json:"tip,omitempty"`
	Message     string                `json:"message,omitempty"`
	Options     robot.TransferOptions `json:"options,omitempty"`
	Strategy    robot.MoveStrategy    `json:"strategy,omitempty"`
}

// response is one result envelope emitted by the bridge.
type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type clientResponse struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// errorCodes carries sentinel identity across the wire so callers can keep
// using errors.Is on remote failures.
var errorCodes = []struct {
	code string
	err  error
}{
	{"no_tip", robot.ErrNoTipAttached},
	{"tip_held", robot.ErrTipAlreadyHeld},
	{"invalid_volume", robot.ErrInvalidVolume},
	{"invalid_flow_rate", robot.ErrInvalidFlowRate},
	{"invalid_tip_policy", robot.ErrInvalidTipPolicy},
	{"canceled", context.Canceled},
	{"deadline", context.DeadlineExceeded},
	{"unknown_action", ErrUnknownAction},
}

func codeFor(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

func errorFor(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return ErrRemote
}

func writeResponse(w io.Writer, resp response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}
