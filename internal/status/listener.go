// Package status implements the UDP status-beacon listener: the sonar
// family advertises itself by periodically broadcasting a fixed-size
// status datagram, and discovery means listening for one.
package status

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

// Listener binds the status port and fans out every well-formed status
// datagram it receives. A malformed or wrong-sized datagram is silently
// dropped and listening continues — the original firmware occasionally
// emits runts, and a single bad beacon must never take discovery down.
type Listener struct {
	conn   *net.UDPConn
	clock  *clock.Clock
	logger *log.Logger

	statusReg *observer.Registry[wire.StatusMessage]

	mu     sync.RWMutex
	latest wire.StatusMessage
	seen   bool
}

// NewListener binds a UDP socket on 0.0.0.0:port (spec.md §6: 52102) and
// returns a Listener ready to Run.
func NewListener(port int, logger *log.Logger) (*Listener, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[status] ", log.LstdFlags)
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("status: listen: %w", err)
	}
	return &Listener{
		conn:      conn,
		clock:     clock.New(),
		logger:    logger,
		statusReg: observer.New[wire.StatusMessage](),
	}, nil
}

// Addr returns the UDP address the listener is bound to, useful when
// NewListener was called with port 0 to get an OS-assigned port (tests).
func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Status returns the registry that every well-formed status datagram is
// dispatched through. Callers — typically session.Session — subscribe to
// learn the sonar's address and to re-dispatch the latest snapshot on
// connect.
func (l *Listener) Status() *observer.Registry[wire.StatusMessage] {
	return l.statusReg
}

// Latest returns the most recently received status message, and whether
// any has been received yet.
func (l *Listener) Latest() (wire.StatusMessage, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest, l.seen
}

// Elapsed reports how long it has been since the last status datagram was
// received — the watchdog in internal/session compares this against its
// status-silence threshold.
func (l *Listener) Elapsed() time.Duration {
	return l.clock.Elapsed()
}

// Close releases the underlying socket. Run returns once Close unblocks
// its pending read.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Run reads status datagrams until ctx is canceled or Close is called.
// Every datagram of exactly wire.StatusMessageSize bytes that decodes
// cleanly resets the watchdog clock, is cached, and is dispatched to
// Status; anything else — short reads, oversized datagrams, garbled
// payloads — is dropped and the loop continues listening.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, wire.StatusMessageSize+64)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			l.logger.Printf("read error: %v", err)
			continue
		}
		if n != wire.StatusMessageSize {
			continue
		}
		msg, err := wire.UnmarshalStatusMessage(buf[:n])
		if err != nil {
			l.logger.Printf("malformed status datagram: %v", err)
			continue
		}

		l.clock.Reset()
		l.mu.Lock()
		l.latest = msg
		l.seen = true
		l.mu.Unlock()

		l.statusReg.Dispatch(msg)
	}
}
