// Package simsonar is an in-process sonar simulator for integration tests:
// it broadcasts status beacons over UDP and answers fire descriptors over
// TCP the way a real Oculus-family sonar does, closely enough to drive
// status.Listener, session.Session and fire.Controller end to end without
// real hardware. Adapted from the teacher's cmd/frame-emulator — the same
// periodic-goroutines-plus-graceful-shutdown shape, retargeted from HTTP
// long-poll to the sonar's UDP/TCP wire protocol.
package simsonar

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/BluEye-Robotics/oculus-driver/internal/wire"
)

// Config controls the simulator's identity and timing.
type Config struct {
	DeviceID     uint16
	StatusPeriod time.Duration
}

// DefaultConfig returns a fast-ticking configuration suitable for tests.
func DefaultConfig() Config {
	return Config{
		DeviceID:     17,
		StatusPeriod: 20 * time.Millisecond,
	}
}

// Sonar runs a UDP status beacon and a TCP fire/ping responder, both bound
// to loopback ephemeral ports chosen at Start time.
type Sonar struct {
	cfg    Config
	logger *log.Logger

	udpConn *net.UDPConn
	ln      net.Listener

	mu         sync.Mutex
	standby    bool
	lastMaster uint8
	lastGain   float64
}

// New constructs an unstarted Sonar.
func New(cfg Config, logger *log.Logger) *Sonar {
	if logger == nil {
		logger = log.New(log.Writer(), "[simsonar] ", log.LstdFlags)
	}
	return &Sonar{cfg: cfg, logger: logger, lastMaster: uint8(wire.MasterModeHighFreqNarrow), lastGain: 50}
}

// Start binds the UDP status socket and the TCP listener. Call Run
// afterward to drive them; DataPort reports the bound TCP port once Start
// succeeds.
func (s *Sonar) Start() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return err
	}
	s.udpConn = conn

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		conn.Close()
		return err
	}
	s.ln = ln
	return nil
}

// DataPort is the bound TCP port sonar clients should dial.
func (s *Sonar) DataPort() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// IP is the loopback address this simulator reports in its status beacon.
func (s *Sonar) IP() net.IP {
	return net.IPv4(127, 0, 0, 1)
}

// Run drives the status beacon ticker and the TCP accept loop until ctx is
// canceled. target is the UDP address status beacons are sent to (normally
// 127.0.0.1:<status.Listener's port>).
func (s *Sonar) Run(ctx context.Context, target *net.UDPAddr) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.runStatusBeacon(ctx, target)
	}()
	go func() {
		defer wg.Done()
		s.runTCPResponder(ctx)
	}()

	<-ctx.Done()
	s.udpConn.Close()
	s.ln.Close()
	wg.Wait()
	return ctx.Err()
}

func (s *Sonar) runStatusBeacon(ctx context.Context, target *net.UDPAddr) {
	ticker := time.NewTicker(s.cfg.StatusPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := s.statusMessage()
			buf, err := msg.MarshalBinary()
			if err != nil {
				s.logger.Printf("marshal status: %v", err)
				continue
			}
			if _, err := s.udpConn.WriteToUDP(buf, target); err != nil {
				return
			}
		}
	}
}

func (s *Sonar) statusMessage() wire.StatusMessage {
	return wire.StatusMessage{
		Head:     wire.Header{OculusID: wire.OculusID, MsgID: wire.MsgStatus, SrcDeviceID: s.cfg.DeviceID},
		DeviceID: uint32(s.cfg.DeviceID),
		IPAddr:   wire.IPv4ToUint32(s.IP()),
	}
}

func (s *Sonar) runTCPResponder(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(ctx, conn)
	}
}

// serve answers every fire descriptor it receives on conn with a Dummy
// header (standby requests) or a SimplePingResult echoing the descriptor
// back. In master mode 2 the echoed gain is mapped from [0,100] onto the
// sonar's own [40,100] scale as 40 + 0.6*gain.
func (s *Sonar) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		hdrBuf := make([]byte, wire.HeaderSize)
		if _, err := readFull(conn, hdrBuf); err != nil {
			return
		}
		var hdr wire.Header
		if err := hdr.UnmarshalBinary(hdrBuf); err != nil {
			return
		}
		payload := make([]byte, hdr.PayloadSize)
		if _, err := readFull(conn, payload); err != nil {
			return
		}
		if hdr.MsgID != wire.MsgSimpleFire {
			continue
		}
		full := append(append([]byte{}, hdrBuf...), payload...)
		req, err := wire.UnmarshalFire(full)
		if err != nil {
			s.logger.Printf("malformed fire request: %v", err)
			continue
		}
		if err := s.respond(conn, req); err != nil {
			return
		}
	}
}

func (s *Sonar) respond(conn net.Conn, req wire.Fire) error {
	if req.PingRate == wire.PingRateStandby {
		s.mu.Lock()
		s.standby = true
		s.mu.Unlock()
		hdr := wire.Header{OculusID: wire.OculusID, SrcDeviceID: s.cfg.DeviceID, MsgID: wire.MsgDummy, MsgVersion: req.Head.MsgVersion}
		buf, _ := hdr.MarshalBinary()
		_, err := conn.Write(buf)
		return err
	}

	s.mu.Lock()
	s.standby = false
	s.mu.Unlock()

	echo := req
	echo.Head = wire.Header{OculusID: wire.OculusID, SrcDeviceID: s.cfg.DeviceID, MsgID: wire.MsgSimplePingResult, MsgVersion: req.Head.MsgVersion}
	if echo.MasterMode == uint8(wire.MasterModeHighFreqNarrow) {
		// Real hardware reports mode-2 gain on its own [40,100] scale
		// rather than the [0,100] the caller requested on; this is the
		// forward half of the affine map fire.rescaleMode2Gain undoes.
		echo.Gain = 40 + 0.6*echo.Gain
	}

	result := wire.SimplePingResult{FireMessage: echo}
	payload, err := marshalPingResult(result)
	if err != nil {
		return err
	}
	echo.Head.PayloadSize = uint32(len(payload))
	hdrBuf, err := echo.Head.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := conn.Write(hdrBuf); err != nil {
		return err
	}
	_, err = conn.Write(payload)
	return err
}

// marshalPingResult builds a minimal, well-formed ping result payload (no
// bearings or image data) around r's fire descriptor, sized for whichever
// wire version r.FireMessage.Head.MsgVersion names.
func marshalPingResult(r wire.SimplePingResult) ([]byte, error) {
	fireBuf, err := r.FireMessage.MarshalBinary()
	if err != nil {
		return nil, err
	}
	tailSize := pingTailV1Size
	if r.FireMessage.IsV2() {
		tailSize = pingTailV2Size
	}
	tail := make([]byte, tailSize)
	return append(fireBuf, tail...), nil
}

const (
	pingTailV1Size = 4 + 4 + 8 + 8 + 8 + 8 + 4 + 1 + 8 + 2 + 2 + 4 + 4 + 4
	pingTailV2Size = 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 1 + 8 + 2 + 2 + 16 + 4 + 4 + 4
)

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
