package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/pipetctl/internal/labware"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

// Client drives a Platform exposed by a bridge. Calls are serialized over
// one connection, dialed on first use and redialed after an I/O failure.
type Client struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

var _ robot.Platform = (*Client)(nil)

// NewClient constructs a client bound to one bridge address.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		addr:    strings.TrimSpace(addr),
		timeout: timeout,
	}
}

// Close drops the bridge connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if c.addr == "" {
		return ErrAddrRequired
	}
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	log.Debug().Str("addr", c.addr).Msg("remote bridge connected")
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// call sends one request line and decodes the data of its response line.
// Delays extend the read deadline by their own duration. Canceling ctx
// abandons the pending response and drops the connection.
func (c *Client) call(ctx context.Context, req request, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(line); err != nil {
		_ = c.closeLocked()
		return err
	}

	deadline := time.Now().Add(c.timeout + req.Duration)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	respLine, err := c.reader.ReadBytes('\n')
	stop()
	if err != nil {
		_ = c.closeLocked()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	var resp clientResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s: %s", errorFor(resp.Code), req.Action, strings.TrimSpace(resp.Error))
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return err
		}
	}
	return nil
}

// query runs a state read that has no error path in the capability set.
func (c *Client) query(action string, out any) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.call(ctx, request{Action: action}, out); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("remote query failed")
	}
}

func (c *Client) Home(ctx context.Context) error {
	return c.call(ctx, request{Action: actionHome}, nil)
}

func (c *Client) Comment(ctx context.Context, msg string) error {
	return c.call(ctx, request{Action: actionComment, Message: msg}, nil)
}

func (c *Client) Pause(ctx context.Context, msg string) error {
	return c.call(ctx, request{Action: actionPause, Message: msg}, nil)
}

func (c *Client) Delay(ctx context.Context, d time.Duration) error {
	return c.call(ctx, request{Action: actionDelay, Duration: d}, nil)
}

func (c *Client) Pipette() robot.Pipette {
	return (*pipette)(c)
}

func (c *Client) Magnet() robot.MagneticModule {
	return (*magnet)(c)
}

type magnet Client

func (m *magnet) Engage(ctx context.Context, height float64) error {
	return (*Client)(m).call(ctx, request{Action: actionEngage, Height: height}, nil)
}

func (m *magnet) Disengage(ctx context.Context) error {
	return (*Client)(m).call(ctx, request{Action: actionDisengage}, nil)
}

func (m *magnet) Status() robot.MagnetStatus {
	var st robot.MagnetStatus
	(*Client)(m).query(actionMagnetStatus, &st)
	return st
}

type pipette Client

func (p *pipette) client() *Client {
	return (*Client)(p)
}

func (p *pipette) PickUpTip(ctx context.Context) error {
	return p.client().call(ctx, request{Action: actionPickUpTip}, nil)
}

func (p *pipette) PickUpTipAt(ctx context.Context, tip labware.Well) error {
	return p.client().call(ctx, request{Action: actionPickUpTipAt, Tip: tip}, nil)
}

func (p *pipette) DropTip(ctx context.Context) error {
	return p.client().call(ctx, request{Action: actionDropTip}, nil)
}

func (p *pipette) ReturnTip(ctx context.Context) error {
	return p.client().call(ctx, request{Action: actionReturnTip}, nil)
}

func (p *pipette) TipAttached() bool {
	var attached bool
	p.client().query(actionTipAttached, &attached)
	return attached
}

func (p *pipette) Aspirate(ctx context.Context, volume float64, loc labware.Location, rate float64) error {
	return p.client().call(ctx, request{Action: actionAspirate, Volume: volume, Location: loc, Rate: rate}, nil)
}

func (p *pipette) Dispense(ctx context.Context, volume float64, loc labware.Location, rate float64) error {
	return p.client().call(ctx, request{Action: actionDispense, Volume: volume, Location: loc, Rate: rate}, nil)
}

func (p *pipette) Mix(ctx context.Context, repetitions int, volume float64, loc labware.Location) error {
	return p.client().call(ctx, request{Action: actionMix, Repetitions: repetitions, Volume: volume, Location: loc}, nil)
}

func (p *pipette) BlowOut(ctx context.Context, loc labware.Location) error {
	return p.client().call(ctx, request{Action: actionBlowOut, Location: loc}, nil)
}

func (p *pipette) Transfer(ctx context.Context, volume float64, src, dst labware.Location, opts robot.TransferOptions) error {
	return p.client().call(ctx, request{
		Action:   actionTransfer,
		Volume:   volume,
		Location: src,
		Dest:     dst,
		Options:  opts,
	}, nil)
}

func (p *pipette) MoveTo(ctx context.Context, loc labware.Location, strategy robot.MoveStrategy) error {
	return p.client().call(ctx, request{Action: actionMoveTo, Location: loc, Strategy: strategy}, nil)
}

func (p *pipette) SetFlowRate(ctx context.Context, rate robot.FlowRate) error {
	return p.client().call(ctx, request{Action: actionSetFlowRate, FlowRate: rate}, nil)
}

func (p *pipette) FlowRate() robot.FlowRate {
	var rate robot.FlowRate
	p.client().query(actionFlowRate, &rate)
	return rate
}

func (p *pipette) MaxVolume() float64 {
	var v float64
	p.client().query(actionMaxVolume, &v)
	return v
}
