// Package fire implements the fire/config request-response loop: sending
// a fire descriptor, matching the sonar's next message against it, and
// exposing standby/resume and request-with-feedback semantics.
package fire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/BluEye-Robotics/oculus-driver/internal/observer"
	"github.com/BluEye-Robotics/oculus-driver/internal/session"
	"github.com/BluEye-Robotics/oculus-driver/internal/wire"
)

// ErrTimeout is returned by CurrentPingConfig when no message arrives
// within the configured window.
var ErrTimeout = errors.New("fire: timeout waiting for feedback")

// gainSendFlag forces the sonar to report gain in its echoed descriptor;
// RequestPingConfig always sets it regardless of the caller's request.
const gainSendFlag = wire.FlagGainSend

// Config bounds the controller's feedback-wait and retry behavior.
type Config struct {
	FeedbackTimeout time.Duration
	MaxRequestTries int
}

// DefaultConfig returns the literal defaults named in spec.md §4.6.
func DefaultConfig() Config {
	return Config{
		FeedbackTimeout: 5 * time.Second,
		MaxRequestTries: 100,
	}
}

// Recorder is the boundary interface any durable sink of raw framed
// messages implements (spec.md §4.7). Controller wires Write to its
// generic message dispatch when one is attached.
type Recorder interface {
	Write(msg wire.RawMessage) error
}

// Controller extends a session.Session with fire-descriptor semantics:
// it tracks the last descriptor applied and the last non-standby ping
// rate, matches feedback against requests, and renormalizes the mode-2
// gain the sonar silently clamps.
type Controller struct {
	*session.Session

	cfg    Config
	logger *log.Logger

	ConfigChanged *observer.Registry[ConfigChange]
	Message       *observer.Registry[wire.RawMessage] // the generic channel recorders subscribe to
	Ping          *observer.Registry[wire.SimplePingResult]
	Dummy         *observer.Registry[wire.Header]

	mu             sync.Mutex
	lastConfig     wire.Fire
	lastPingRate   wire.PingRate
	recorderHandle observer.Handle
	recorderBound  bool
}

// ConfigChange is the payload of a ConfigChanged dispatch: the descriptor
// before and after the change that triggered it.
type ConfigChange struct {
	Prev wire.Fire
	Next wire.Fire
}

// NewController wraps sess with fire/config semantics. Fire descriptors
// are addressed to the sonar id the session learned on connect.
func NewController(sess *session.Session, cfg Config, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(log.Writer(), "[fire] ", log.LstdFlags)
	}
	c := &Controller{
		Session:       sess,
		cfg:           cfg,
		logger:        logger,
		ConfigChanged: observer.New[ConfigChange](),
		Message:       observer.New[wire.RawMessage](),
		Ping:          observer.New[wire.SimplePingResult](),
		Dummy:         observer.New[wire.Header](),
		lastConfig:    wire.DefaultFire(),
		lastPingRate:  wire.PingRateNormal,
	}
	sess.Message.Append(c.handleMessage)
	return c
}

// SetRecorder subscribes r.Write to the generic message registry (spec.md
// §4.7: "wired in by subscribing write to the generic message registry").
// Passing nil detaches any previously attached recorder.
func (c *Controller) SetRecorder(r Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorderBound {
		c.Message.Remove(c.recorderHandle)
		c.recorderBound = false
	}
	if r == nil {
		return
	}
	c.recorderHandle = c.Message.Append(func(m wire.RawMessage) {
		if err := r.Write(m); err != nil {
			c.logger.Printf("recorder write: %v", err)
		}
	})
	c.recorderBound = true
}

// LastConfig returns the most recently applied fire descriptor.
func (c *Controller) LastConfig() wire.Fire {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastConfig
}

// SendPingConfig serializes cfg and writes it to the socket (spec.md
// §4.6). It always stamps the header's magic, message id, addressing and
// payload size itself, and always overwrites networkSpeed to 0xFF (use
// link speed). lastConfig.PingRate is updated unconditionally — even on
// a short write — because the firmware never echoes pingRate in pings;
// the driver has no other way to know the sonar's intended rate than to
// trust its own last request.
func (c *Controller) SendPingConfig(cfg wire.Fire) (bool, error) {
	cfg.Head.OculusID = wire.OculusID
	cfg.Head.MsgID = wire.MsgSimpleFire
	cfg.Head.SrcDeviceID = 0
	cfg.Head.DstDeviceID = c.Session.SonarID()
	cfg.NetworkSpeed = 0xFF

	var size int
	if cfg.IsV2() {
		size = wire.FireV2Size
	} else {
		size = wire.FireV1Size
	}
	cfg.Head.PayloadSize = uint32(size - wire.HeaderSize)

	buf, err := cfg.MarshalBinary()
	if err != nil {
		return false, fmt.Errorf("fire: marshal: %w", err)
	}
	n, err := c.Session.Send(buf)

	c.mu.Lock()
	c.lastConfig.PingRate = cfg.PingRate
	if cfg.PingRate != wire.PingRateStandby {
		c.lastPingRate = cfg.PingRate
	}
	c.mu.Unlock()

	if err != nil {
		return false, fmt.Errorf("fire: send: %w", err)
	}
	return n >= len(buf), nil
}

// CurrentPingConfig waits for the next raw message and returns lastConfig
// with its header replaced by that message's header. It fails with
// ErrTimeout if nothing arrives within cfg.FeedbackTimeout.
func (c *Controller) CurrentPingConfig(ctx context.Context) (wire.Fire, error) {
	msgCh := make(chan wire.RawMessage, 1)
	c.Session.Message.Once(func(m wire.RawMessage) {
		select {
		case msgCh <- m:
		default:
		}
	})

	select {
	case m := <-msgCh:
		c.mu.Lock()
		result := c.lastConfig
		c.mu.Unlock()
		result.Head = m.Header
		return result, nil
	case <-time.After(c.cfg.FeedbackTimeout):
		return wire.Fire{}, ErrTimeout
	case <-ctx.Done():
		return wire.Fire{}, ctx.Err()
	}
}

// RequestPingConfig sends req and retries until the sonar's feedback is
// coherent with it (spec.md §4.6), up to cfg.MaxRequestTries times. Flag
// bit 2 (gain-send) is forced on regardless of what the caller asked for,
// so gain is always present in the echo to check against. On exhausting
// its retries it returns req with Head.MsgID zeroed — a caller-checkable
// sentinel for "the sonar never confirmed this."
func (c *Controller) RequestPingConfig(ctx context.Context, req wire.Fire) (wire.Fire, error) {
	req.Flags |= gainSendFlag

	for i := 0; i < c.cfg.MaxRequestTries; i++ {
		if _, err := c.SendPingConfig(req); err != nil {
			return wire.Fire{}, err
		}
		feedback, err := c.CurrentPingConfig(ctx)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return wire.Fire{}, err
		}
		if checkConfigFeedback(req, feedback) {
			return feedback, nil
		}
	}
	req.Head.MsgID = 0
	return req, nil
}

// Standby sends lastConfig with its rate set to Standby.
func (c *Controller) Standby() (bool, error) {
	cfg := c.LastConfig()
	cfg.PingRate = wire.PingRateStandby
	return c.SendPingConfig(cfg)
}

// Resume sends lastConfig with its rate restored to the last non-standby
// rate that was requested.
func (c *Controller) Resume() (bool, error) {
	c.mu.Lock()
	cfg := c.lastConfig
	cfg.PingRate = c.lastPingRate
	c.mu.Unlock()
	return c.SendPingConfig(cfg)
}

// checkConfigFeedback implements the coherence rule of spec.md §4.6.
func checkConfigFeedback(req, feedback wire.Fire) bool {
	if req.PingRate == wire.PingRateStandby {
		return feedback.Head.MsgID == wire.MsgDummy
	}
	if feedback.Head.MsgID != wire.MsgSimplePingResult {
		return false
	}
	if feedback.MasterMode != req.MasterMode || feedback.Gamma != req.Gamma || feedback.Flags != req.Flags {
		return false
	}
	if math.Abs(feedback.Range-req.Range) > 0.001 {
		return false
	}
	if math.Abs(feedback.Gain-req.Gain) > 0.1 {
		return false
	}
	if req.SpeedOfSound != 0 {
		if math.Abs(feedback.SpeedOfSound-req.SpeedOfSound) > 0.1 {
			return false
		}
	} else if math.Abs(feedback.Salinity-req.Salinity) > 0.1 {
		return false
	}
	return true
}

// configChanged implements spec.md §4.6's change-detection predicate.
func configChanged(prev, next wire.Fire) bool {
	if prev.MasterMode != next.MasterMode ||
		prev.PingRate != next.PingRate ||
		prev.NetworkSpeed != next.NetworkSpeed ||
		prev.Gamma != next.Gamma ||
		prev.Flags != next.Flags {
		return true
	}
	if math.Abs(prev.Range-next.Range) > 0.001 {
		return true
	}
	if math.Abs(prev.Gain-next.Gain) > 0.1 {
		return true
	}
	if math.Abs(prev.SpeedOfSound-next.SpeedOfSound) > 0.1 {
		return true
	}
	if math.Abs(prev.Salinity-next.Salinity) > 0.1 {
		return true
	}
	return false
}

// rescaleMode2Gain undoes the sonar's silent [40,100] gain clamp in
// master mode 2, so lastConfig.Gain stays on a [0,100] scale (spec.md
// §4.6, invariant 6).
func rescaleMode2Gain(gain float64) float64 {
	return (gain - 40) * 100 / 60
}

// handleMessage is the raw-message handler wired into the session's
// Message registry: it derives newConfig from the message, dispatches
// ConfigChanged/message/Ping-or-Dummy in that order (spec.md §4.6 step
// order, §5 ordering guarantee). An attached recorder is a subscriber of
// the generic message registry, so it records the message during the
// message dispatch, before Ping or Dummy observers run.
func (c *Controller) handleMessage(m wire.RawMessage) {
	c.mu.Lock()
	prev := c.lastConfig
	c.mu.Unlock()

	newConfig := prev

	switch m.Header.MsgID {
	case wire.MsgSimplePingResult:
		ping, err := wire.UnmarshalSimplePingResult(m.Payload)
		if err != nil {
			c.logger.Printf("malformed ping result: %v", err)
			return
		}
		echoed := ping.FireMessage
		echoed.PingRate = prev.PingRate // firmware never echoes pingRate; keep ours
		if echoed.MasterMode == uint8(wire.MasterModeHighFreqNarrow) {
			echoed.Gain = rescaleMode2Gain(echoed.Gain)
		}
		newConfig = echoed

		if configChanged(prev, newConfig) {
			c.ConfigChanged.Dispatch(ConfigChange{Prev: prev, Next: newConfig})
		}
		c.setLastConfig(newConfig)
		c.dispatchGeneric(m)
		c.Ping.Dispatch(ping)

	case wire.MsgDummy:
		newConfig.PingRate = wire.PingRateStandby
		if configChanged(prev, newConfig) {
			c.ConfigChanged.Dispatch(ConfigChange{Prev: prev, Next: newConfig})
		}
		c.setLastConfig(newConfig)
		c.dispatchGeneric(m)
		c.Dummy.Dispatch(m.Header)

	case wire.MsgUserConfig, wire.MsgPingResult, wire.MsgBootInfo:
		// Parsing not implemented for these message ids (matches the
		// original driver's handle_message); logged, never surfaced.
		c.logger.Printf("received unhandled known message id %d", m.Header.MsgID)
		c.dispatchGeneric(m)

	default:
		c.dispatchGeneric(m)
	}
}

func (c *Controller) setLastConfig(cfg wire.Fire) {
	c.mu.Lock()
	c.lastConfig = cfg
	c.mu.Unlock()
}

func (c *Controller) dispatchGeneric(m wire.RawMessage) {
	c.Message.Dispatch(m)
}
