package session

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BluEye-Robotics/oculus-driver/internal/observer"
	"github.com/BluEye-Robotics/oculus-driver/internal/wire"
)

// fakeStatusSource is a minimal StatusSource a test fully controls: it
// lets the test dispatch status datagrams on demand and fake watchdog
// silence by setting elapsed durations directly.
type fakeStatusSource struct {
	reg     *observer.Registry[wire.StatusMessage]
	elapsed atomic.Int64 // nanoseconds
	latest  atomic.Value
}

func newFakeStatusSource() *fakeStatusSource {
	return &fakeStatusSource{reg: observer.New[wire.StatusMessage]()}
}

func (f *fakeStatusSource) Status() *observer.Registry[wire.StatusMessage] { return f.reg }
func (f *fakeStatusSource) Elapsed() time.Duration                        { return time.Duration(f.elapsed.Load()) }
func (f *fakeStatusSource) Latest() (wire.StatusMessage, bool) {
	v := f.latest.Load()
	if v == nil {
		return wire.StatusMessage{}, false
	}
	return v.(wire.StatusMessage), true
}

func (f *fakeStatusSource) publish(msg wire.StatusMessage) {
	f.latest.Store(msg)
	f.reg.Dispatch(msg)
}

func startFakeSonar(t *testing.T) (net.Listener, chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	return ln, accepted
}

func statusAnnouncing(t *testing.T, ln net.Listener, sonarID uint16) wire.StatusMessage {
	t.Helper()
	// The driver always dials cfg.DataPort; tests point DataPort at ln's
	// ephemeral port (see testConfig), so only the IP from the status
	// beacon matters here.
	ip := ln.Addr().(*net.TCPAddr).IP.To4()
	return wire.StatusMessage{
		Head:     wire.Header{OculusID: wire.OculusID, MsgID: wire.MsgStatus, SrcDeviceID: sonarID},
		DeviceID: uint32(sonarID),
		IPAddr:   wire.IPv4ToUint32(ip),
	}
}

func testConfig(dataPort int) Config {
	cfg := DefaultConfig()
	cfg.DataPort = dataPort
	cfg.CheckerPeriod = 20 * time.Millisecond
	cfg.StatusTimeout = 150 * time.Millisecond
	cfg.MessageTimeout = 150 * time.Millisecond
	return cfg
}

func TestDiscoveryLearnsSonarIDAndConnects(t *testing.T) {
	ln, accepted := startFakeSonar(t)
	defer ln.Close()

	fakeStatus := newFakeStatusSource()
	s := New(testConfig(ln.Addr().(*net.TCPAddr).Port), fakeStatus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	connected := make(chan uint16, 1)
	s.Connect.Append(func(id uint16) { connected <- id })

	s.ResetConnection()
	require.Eventually(t, func() bool { return s.State() == Attempt }, time.Second, time.Millisecond)
	fakeStatus.publish(statusAnnouncing(t, ln, 17))

	select {
	case id := <-connected:
		require.Equal(t, uint16(17), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect dispatch")
	}
	require.True(t, s.Connected())
	require.Equal(t, uint16(17), s.SonarID())

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("sonar never accepted the connection")
	}
}

func TestFrameReceptionDispatchesOneMessage(t *testing.T) {
	ln, accepted := startFakeSonar(t)
	defer ln.Close()

	fakeStatus := newFakeStatusSource()
	s := New(testConfig(ln.Addr().(*net.TCPAddr).Port), fakeStatus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.ResetConnection()
	require.Eventually(t, func() bool { return s.State() == Attempt }, time.Second, time.Millisecond)
	fakeStatus.publish(statusAnnouncing(t, ln, 17))

	var sonarConn net.Conn
	select {
	case sonarConn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("sonar never accepted the connection")
	}

	messages := make(chan wire.RawMessage, 1)
	s.Message.Append(func(m wire.RawMessage) { messages <- m })

	hdr := wire.Header{OculusID: wire.OculusID, SrcDeviceID: 17, MsgID: wire.MsgSimplePingResult, MsgVersion: wire.FireVersion2, PayloadSize: 260}
	payload := make([]byte, 260)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := append(must(hdr.MarshalBinary()), payload...)
	_, err := sonarConn.Write(frame)
	require.NoError(t, err)

	select {
	case m := <-messages:
		require.Equal(t, hdr, m.Header)
		require.Len(t, m.Payload, 260)
		require.Equal(t, 276, len(m.Bytes()))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame dispatch")
	}
}

func TestDesyncResyncsOnNextValidHeader(t *testing.T) {
	ln, accepted := startFakeSonar(t)
	defer ln.Close()

	fakeStatus := newFakeStatusSource()
	s := New(testConfig(ln.Addr().(*net.TCPAddr).Port), fakeStatus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.ResetConnection()
	require.Eventually(t, func() bool { return s.State() == Attempt }, time.Second, time.Millisecond)
	fakeStatus.publish(statusAnnouncing(t, ln, 17))

	var sonarConn net.Conn
	select {
	case sonarConn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("sonar never accepted the connection")
	}

	messages := make(chan wire.RawMessage, 4)
	s.Message.Append(func(m wire.RawMessage) { messages <- m })

	hdr := wire.Header{OculusID: wire.OculusID, SrcDeviceID: 17, MsgID: wire.MsgDummy, MsgVersion: wire.FireVersion1, PayloadSize: 0}
	// The resync policy is "read another header's worth of bytes", not a
	// byte-by-byte magic scan (spec.md §9): it only realigns cleanly when
	// the garbage happens to be exactly one header-sized read. A 16-byte
	// garbage header is the deterministic case to exercise here.
	garbage := make([]byte, wire.HeaderSize)
	for i := range garbage {
		garbage[i] = 0xAA
	}
	_, err := sonarConn.Write(garbage)
	require.NoError(t, err)
	_, err = sonarConn.Write(must(hdr.MarshalBinary()))
	require.NoError(t, err)

	select {
	case m := <-messages:
		require.Equal(t, uint16(17), m.Header.SrcDeviceID)
		require.Len(t, m.Payload, 0)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resync'd frame dispatch")
	}
	require.Empty(t, messages, "garbage window must not have produced a message")
}

func TestWatchdogDemotesToLostOnStatusSilence(t *testing.T) {
	ln, accepted := startFakeSonar(t)
	defer ln.Close()

	fakeStatus := newFakeStatusSource()
	s := New(testConfig(ln.Addr().(*net.TCPAddr).Port), fakeStatus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.ResetConnection()
	require.Eventually(t, func() bool { return s.State() == Attempt }, time.Second, time.Millisecond)
	fakeStatus.publish(statusAnnouncing(t, ln, 17))

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("sonar never accepted the connection")
	}
	require.Eventually(t, s.Connected, time.Second, 10*time.Millisecond)

	fakeStatus.elapsed.Store(int64(time.Hour)) // simulate a silenced status feed

	require.Eventually(t, func() bool { return s.State() == Lost }, time.Second, 10*time.Millisecond)
}

func must(b []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return b
}
