package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/rs/zerolog/log"
)

// idleTimeout bounds how long a bridge connection may sit without a request.
const idleTimeout = 5 * time.Minute

// Bridge exposes one Platform to remote clients. Requests from all
// connections are applied to the platform one at a time.
type Bridge struct {
	platform robot.Platform
	mu       sync.Mutex
	clients  atomic.Int64
}

// NewBridge wraps platform for serving.
func NewBridge(platform robot.Platform) *Bridge {
	return &Bridge{platform: platform}
}

// Serve accepts connections on ln until ctx is canceled.
func Serve(ctx context.Context, ln net.Listener, platform robot.Platform) error {
	return NewBridge(platform).Serve(ctx, ln)
}

func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("robot bridge listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go b.handleConn(ctx, conn)
	}
}

// handleConn decodes one request per line and writes one response per line.
func (b *Bridge) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	active := b.clients.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("bridge client connected")
	defer func() {
		remaining := b.clients.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("bridge client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("remote", remote).Msg("bridge read")
			}
			return
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = writeResponse(conn, response{OK: false, Error: err.Error()})
			continue
		}
		resp := b.handleRequest(ctx, req)
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := writeResponse(conn, resp); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("bridge write")
			return
		}
	}
}

func fail(err error) response {
	return response{OK: false, Error: err.Error(), Code: codeFor(err)}
}

func done(err error) response {
	if err != nil {
		return fail(err)
	}
	return response{OK: true}
}

// handleRequest dispatches one envelope onto the wrapped platform.
func (b *Bridge) handleRequest(ctx context.Context, req request) response {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.platform
	pip := p.Pipette()
	mag := p.Magnet()
	switch req.Action {
	case actionHome:
		return done(p.Home(ctx))
	case actionComment:
		return done(p.Comment(ctx, req.Message))
	case actionPause:
		return done(p.Pause(ctx, req.Message))
	case actionDelay:
		return done(p.Delay(ctx, req.Duration))
	case actionPickUpTip:
		return done(pip.PickUpTip(ctx))
	case actionPickUpTipAt:
		return done(pip.PickUpTipAt(ctx, req.Tip))
	case actionDropTip:
		return done(pip.DropTip(ctx))
	case actionReturnTip:
		return done(pip.ReturnTip(ctx))
	case actionTipAttached:
		return response{OK: true, Data: pip.TipAttached()}
	case actionAspirate:
		return done(pip.Aspirate(ctx, req.Volume, req.Location, req.Rate))
	case actionDispense:
		return done(pip.Dispense(ctx, req.Volume, req.Location, req.Rate))
	case actionMix:
		return done(pip.Mix(ctx, req.Repetitions, req.Volume, req.Location))
	case actionBlowOut:
		return done(pip.BlowOut(ctx, req.Location))
	case actionTransfer:
		return done(pip.Transfer(ctx, req.Volume, req.Location, req.Dest, req.Options))
	case actionMoveTo:
		return done(pip.MoveTo(ctx, req.Location, req.Strategy))
	case actionSetFlowRate:
		return done(pip.SetFlowRate(ctx, req.FlowRate))
	case actionFlowRate:
		return response{OK: true, Data: pip.FlowRate()}
	case actionMaxVolume:
		return response{OK: true, Data: pip.MaxVolume()}
	case actionEngage:
		return done(mag.Engage(ctx, req.Height))
	case actionDisengage:
		return done(mag.Disengage(ctx))
	case actionMagnetStatus:
		return response{OK: true, Data: mag.Status()}
	default:
		return fail(fmt.Errorf("%w: %s", ErrUnknownAction, req.Action))
	}
}
