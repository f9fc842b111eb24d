// Package session implements the connection/reception state machine:
// discovery off a status snapshot, TCP connect, frame-synchronized
// reception, and a watchdog that demotes a stale link to Lost.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/BluEye-Robotics/oculus-driver/internal/clock"
	"github.com/BluEye-Robotics/oculus-driver/internal/observer"
	"github.com/BluEye-Robotics/oculus-driver/internal/wire"
)

// State is one of the four connection states of the reception state
// machine.
type State int

const (
	Initializing State = iota
	Attempt
	Connected
	Lost
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Attempt:
		return "Attempt"
	case Connected:
		return "Connected"
	case Lost:
		return "Lost"
	default:
		return "Unknown"
	}
}

// StatusSource is the subset of status.Listener that a Session needs: the
// registry to learn a sonar's address from, and the watchdog inputs.
// Defined as an interface so tests can supply a fake beacon source.
type StatusSource interface {
	Status() *observer.Registry[wire.StatusMessage]
	Elapsed() time.Duration
	Latest() (wire.StatusMessage, bool)
}

// Config bounds the Session's timing behavior (spec.md §4.5, §6).
type Config struct {
	DataPort       int
	CheckerPeriod  time.Duration
	StatusTimeout  time.Duration
	MessageTimeout time.Duration
	Dialer         net.Dialer
}

// DefaultConfig returns the literal defaults named in spec.md.
func DefaultConfig() Config {
	return Config{
		DataPort:       wire.DataPort,
		CheckerPeriod:  time.Second,
		StatusTimeout:  5 * time.Second,
		MessageTimeout: 10 * time.Second,
	}
}

// Session owns a TCP connection to one sonar and runs its reception state
// machine. All of its exported methods are safe to call from any
// goroutine; the state machine itself executes on a single internal
// goroutine (Run) so completion handlers never overlap (spec.md §5).
type Session struct {
	cfg    Config
	status StatusSource
	logger *log.Logger

	Connect *observer.Registry[uint16] // fires with the learned sonar id
	Error   *observer.Registry[error]
	Message *observer.Registry[wire.RawMessage]

	cmdCh chan command

	stateMu sync.RWMutex
	state   State
	sonarID uint16

	sendMu sync.Mutex // guards conn against the open/close race
	conn   net.Conn

	msgClock *clock.Clock
}

type command int

const (
	cmdReset command = iota
	cmdClose
)

// New constructs a Session bound to the given status source. Call Run to
// start its executor goroutine.
func New(cfg Config, statusSrc StatusSource, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(log.Writer(), "[session] ", log.LstdFlags)
	}
	return &Session{
		cfg:      cfg,
		status:   statusSrc,
		logger:   logger,
		Connect:  observer.New[uint16](),
		Error:    observer.New[error](),
		Message:  observer.New[wire.RawMessage](),
		cmdCh:    make(chan command, 4),
		msgClock: clock.New(),
	}
}

// State reports the current connection state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Connected reports whether the session is in the Connected state.
func (s *Session) Connected() bool {
	return s.State() == Connected
}

// SonarID returns the device id learned from the status beacon of the
// most recent successful connection (0 before the first one). A failed
// connection attempt leaves it unchanged.
func (s *Session) SonarID() uint16 {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.sonarID
}

// TimeSinceLastMessage reports how long it has been since the last
// complete frame was received on the TCP channel.
func (s *Session) TimeSinceLastMessage() time.Duration {
	return s.msgClock.Elapsed()
}

// Send writes b to the TCP socket, serialized against concurrent
// open/close. It returns 0, nil if the session is not currently
// connected (spec.md §4.5: "send returns 0 if disconnected").
func (s *Session) Send(b []byte) (int, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.conn == nil || s.State() != Connected {
		return 0, nil
	}
	return s.conn.Write(b)
}

// ResetConnection requests a transition back to Attempt and a fresh
// discovery-then-connect cycle. It may be called from any goroutine and
// any number of times; each call is processed in turn by the executor.
func (s *Session) ResetConnection() {
	s.cmdCh <- cmdReset
}

// CloseConnection requests that the socket be shut down and the state
// machine returned to Initializing.
func (s *Session) CloseConnection() {
	s.cmdCh <- cmdClose
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Run drives the state machine until ctx is canceled. It owns every state
// transition and every observer dispatch that results from I/O, so none
// of them ever run concurrently with one another.
func (s *Session) Run(ctx context.Context) error {
	s.setState(Initializing)

	ticker := time.NewTicker(s.cfg.CheckerPeriod)
	defer ticker.Stop()

	type attemptResult struct {
		sonarID uint16
		conn    net.Conn
		err     error
	}
	resultCh := make(chan attemptResult, 1)

	frameCh := make(chan wire.RawMessage, 16)
	readErrCh := make(chan error, 1)
	var readerDone chan struct{}

	closeConn := func() {
		s.sendMu.Lock()
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Printf("close: %v", err)
			}
			s.conn = nil
		}
		s.sendMu.Unlock()
	}

	startAttempt := func() {
		s.setState(Attempt)
		s.status.Status().Once(func(msg wire.StatusMessage) {
			sonarID := msg.Head.SrcDeviceID
			ip := msg.IP()
			addr := fmt.Sprintf("%s:%d", ip.String(), s.cfg.DataPort)
			go func() {
				conn, err := s.cfg.Dialer.DialContext(ctx, "tcp", addr)
				resultCh <- attemptResult{sonarID: sonarID, conn: conn, err: err}
			}()
		})
	}

	startReader := func() {
		done := make(chan struct{})
		readerDone = done
		go func() {
			defer close(done)
			for {
				hdrBuf := make([]byte, wire.HeaderSize)
				if _, err := readFull(s.conn, hdrBuf); err != nil {
					readErrCh <- err
					return
				}
				var hdr wire.Header
				if err := hdr.UnmarshalBinary(hdrBuf); err != nil || !hdr.Valid(s.SonarID()) {
					// Resync: the frame is desynchronized. Re-issue a fresh
					// header read rather than trying to consume a payload
					// that doesn't exist at this offset.
					continue
				}
				payload := make([]byte, hdr.PayloadSize)
				if _, err := readFull(s.conn, payload); err != nil {
					readErrCh <- err
					return
				}
				frameCh <- wire.RawMessage{Header: hdr, Payload: payload}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			closeConn()
			if readerDone != nil {
				<-readerDone
			}
			return ctx.Err()

		case cmd := <-s.cmdCh:
			switch cmd {
			case cmdReset:
				startAttempt()
			case cmdClose:
				closeConn()
				s.setState(Initializing)
			}

		case res := <-resultCh:
			if s.State() != Attempt {
				if res.conn != nil {
					res.conn.Close()
				}
				continue
			}
			if res.err != nil {
				s.logger.Printf("connect: %v", res.err)
				s.Error.Dispatch(res.err)
				s.setState(Lost)
				continue
			}
			s.stateMu.Lock()
			s.sonarID = res.sonarID
			s.stateMu.Unlock()
			s.sendMu.Lock()
			s.conn = res.conn
			s.sendMu.Unlock()
			s.msgClock.Reset()
			s.setState(Connected)
			startReader()
			s.Connect.Dispatch(res.sonarID)
			if latest, ok := s.status.Latest(); ok {
				s.status.Status().Dispatch(latest)
			}

		case frame := <-frameCh:
			s.msgClock.Reset()
			s.Message.Dispatch(frame)

		case err := <-readErrCh:
			if s.State() == Connected {
				s.logger.Printf("read: %v", err)
				s.Error.Dispatch(err)
				closeConn()
				s.setState(Lost)
			}

		case <-ticker.C:
			s.watchdogTick()
		}
	}
}

// watchdogTick implements spec.md §4.5's watchdog. It does nothing before
// a connection has been made (Initializing, Attempt). Silent status means
// the sonar is gone from the network (Lost and logged; no error is
// dispatched); silent messages on an otherwise
// live link means the TCP side died without telling us (Lost, error
// dispatched).
func (s *Session) watchdogTick() {
	st := s.State()
	if st == Initializing || st == Attempt {
		return
	}
	if s.status.Elapsed() > s.cfg.StatusTimeout {
		s.logger.Printf("no status beacon in %s, sonar not visible on network", s.status.Elapsed())
		s.setState(Lost)
		return
	}
	if s.TimeSinceLastMessage() > s.cfg.MessageTimeout {
		err := fmt.Errorf("session: no message in %s", s.TimeSinceLastMessage())
		s.setState(Lost)
		s.Error.Dispatch(err)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
