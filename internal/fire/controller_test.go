package fire

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BluEye-Robotics/oculus-driver/internal/observer"
	"github.com/BluEye-Robotics/oculus-driver/internal/session"
	"github.com/BluEye-Robotics/oculus-driver/internal/wire"
)

// fakeStatusSourceForFire is a minimal session.StatusSource a test fully
// controls, mirroring internal/session's own test fake (unexported there,
// so not reusable across package boundaries).
type fakeStatusSourceForFire struct {
	reg     *observer.Registry[wire.StatusMessage]
	elapsed atomic.Int64
	latest  atomic.Value
}

func newFakeStatusSourceForFire() *fakeStatusSourceForFire {
	return &fakeStatusSourceForFire{reg: observer.New[wire.StatusMessage]()}
}

func (f *fakeStatusSourceForFire) Status() *observer.Registry[wire.StatusMessage] { return f.reg }
func (f *fakeStatusSourceForFire) Elapsed() time.Duration                        { return time.Duration(f.elapsed.Load()) }
func (f *fakeStatusSourceForFire) Latest() (wire.StatusMessage, bool) {
	v := f.latest.Load()
	if v == nil {
		return wire.StatusMessage{}, false
	}
	return v.(wire.StatusMessage), true
}

func (f *fakeStatusSourceForFire) publish(sonarID uint16, ip net.IP) {
	msg := wire.StatusMessage{
		Head:     wire.Header{OculusID: wire.OculusID, MsgID: wire.MsgStatus, SrcDeviceID: sonarID},
		DeviceID: uint32(sonarID),
		IPAddr:   wire.IPv4ToUint32(ip),
	}
	f.latest.Store(msg)
	f.reg.Dispatch(msg)
}

func TestConfigChangedIdempotent(t *testing.T) {
	cfg := wire.DefaultFire()
	require.False(t, configChanged(cfg, cfg))

	mutated := cfg
	mutated.Gain += 1 // well past the 0.1 tolerance
	require.True(t, configChanged(cfg, mutated))

	withinTolerance := cfg
	withinTolerance.Gain += 0.05
	require.False(t, configChanged(cfg, withinTolerance))
}

func TestRescaleMode2GainRoundTrip(t *testing.T) {
	for g := 40.0; g <= 100.0; g += 10 {
		rescaled := rescaleMode2Gain(g)
		require.GreaterOrEqual(t, rescaled, 0.0)
		require.LessOrEqual(t, rescaled, 100.0)
	}
	require.InDelta(t, 50.0, rescaleMode2Gain(70), 1e-9)
}

func TestCheckConfigFeedbackStandbyAcceptsAnyDummy(t *testing.T) {
	req := wire.DefaultFire()
	req.PingRate = wire.PingRateStandby

	dummy := wire.Fire{Head: wire.Header{MsgID: wire.MsgDummy}}
	require.True(t, checkConfigFeedback(req, dummy))
}

func TestCheckConfigFeedbackComparatorsExact(t *testing.T) {
	req := wire.DefaultFire()
	feedback := req
	feedback.Head.MsgID = wire.MsgSimplePingResult

	require.True(t, checkConfigFeedback(req, feedback))

	wrongMode := feedback
	wrongMode.MasterMode = uint8(wire.MasterModeLowFreqWide)
	require.False(t, checkConfigFeedback(req, wrongMode))

	gainOff := feedback
	gainOff.Gain += 1
	require.False(t, checkConfigFeedback(req, gainOff))

	gainWithinTolerance := feedback
	gainWithinTolerance.Gain += 0.05
	require.True(t, checkConfigFeedback(req, gainWithinTolerance))

	require.False(t, checkConfigFeedback(req, wire.Fire{Head: wire.Header{MsgID: wire.MsgDummy}}))
}

// harness wires a Controller to a live loopback TCP "sonar" so dispatch
// order and the fire/config loop can be exercised end to end.
type harness struct {
	t       *testing.T
	ln      net.Listener
	sonar   net.Conn
	ctrl    *Controller
	cancel  context.CancelFunc
}

func newHarness(t *testing.T) *harness {
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

	sessCfg := session.DefaultConfig()
	sessCfg.DataPort = ln.Addr().(*net.TCPAddr).Port
	sessCfg.CheckerPeriod = 20 * time.Millisecond

	fakeStatus := newFakeStatusSourceForFire()
	sess := session.New(sessCfg, fakeStatus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go sess.Run(ctx)

	sess.ResetConnection()
	require.Eventually(t, func() bool { return sess.State() == session.Attempt }, time.Second, time.Millisecond)
	fakeStatus.publish(17, ln.Addr().(*net.TCPAddr).IP.To4())

	var sonarConn net.Conn
	select {
	case sonarConn = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("sonar never accepted the connection")
	}
	require.Eventually(t, sess.Connected, time.Second, time.Millisecond)

	ctrl := NewController(sess, DefaultConfig(), nil)

	h := &harness{t: t, ln: ln, sonar: sonarConn, ctrl: ctrl, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return h
}

func (h *harness) sendFromSonar(hdr wire.Header, payload []byte) {
	h.t.Helper()
	hdr.PayloadSize = uint32(len(payload))
	buf, err := hdr.MarshalBinary()
	require.NoError(h.t, err)
	_, err = h.sonar.Write(buf)
	require.NoError(h.t, err)
	_, err = h.sonar.Write(payload)
	require.NoError(h.t, err)
}

func TestStandbyRoundTrip(t *testing.T) {
	h := newHarness(t)

	dummies := make(chan wire.Header, 1)
	h.ctrl.Dummy.Append(func(hdr wire.Header) { dummies <- hdr })

	// Before standby, a default-constructed controller is already at its
	// default (non-standby) rate.
	require.NotEqual(t, wire.PingRateStandby, h.ctrl.LastConfig().PingRate)

	ok, err := h.ctrl.Standby()
	require.NoError(t, err)
	require.True(t, ok)
	// send_ping_config updates lastConfig.PingRate unconditionally, ahead
	// of any feedback (spec.md §4.6) — the sonar need not confirm it.
	require.Equal(t, wire.PingRateStandby, h.ctrl.LastConfig().PingRate)

	dummyHdr := wire.Header{OculusID: wire.OculusID, SrcDeviceID: 17, MsgID: wire.MsgDummy, MsgVersion: wire.FireVersion1}
	h.sendFromSonar(dummyHdr, nil)

	select {
	case <-dummies:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Dummy dispatch")
	}
	// check_config_feedback(standby-request, any dummy) holds regardless
	// of the other comparators (spec.md §4.6 coherence rule).
	standbyReq := h.ctrl.LastConfig()
	require.True(t, checkConfigFeedback(standbyReq, wire.Fire{Head: dummyHdr}))
	require.Equal(t, wire.PingRateStandby, h.ctrl.LastConfig().PingRate)
}

func TestMode2GainRescaleScenario(t *testing.T) {
	h := newHarness(t)

	pings := make(chan wire.SimplePingResult, 1)
	h.ctrl.Ping.Append(func(p wire.SimplePingResult) { pings <- p })

	req := wire.DefaultFire()
	req.MasterMode = uint8(wire.MasterModeHighFreqNarrow)
	req.Gain = 50
	ok, err := h.ctrl.SendPingConfig(req)
	require.NoError(t, err)
	require.True(t, ok)

	echo := wire.DefaultFire()
	echo.Head = wire.Header{OculusID: wire.OculusID, SrcDeviceID: 17, MsgID: wire.MsgSimpleFire, MsgVersion: wire.FireVersion2}
	echo.MasterMode = uint8(wire.MasterModeHighFreqNarrow)
	echo.Gain = 70 // sonar's echo of 50 on its own [40,100] mode-2 scale

	pingResult := wire.SimplePingResult{FireMessage: echo}
	payload, err := marshalPingResultV2(pingResult)
	require.NoError(t, err)

	hdr := wire.Header{OculusID: wire.OculusID, SrcDeviceID: 17, MsgID: wire.MsgSimplePingResult, MsgVersion: wire.FireVersion2}
	h.sendFromSonar(hdr, payload)

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Ping dispatch")
	}

	require.InDelta(t, 50.0, h.ctrl.LastConfig().Gain, 1e-9)
}

// marshalPingResultV2 builds a minimal, well-formed v2 SimplePingResult
// payload (no bearings/image) around the given fire echo, for feeding
// back from a simulated sonar.
func marshalPingResultV2(r wire.SimplePingResult) ([]byte, error) {
	fireBuf, err := r.FireMessage.MarshalBinary()
	if err != nil {
		return nil, err
	}
	tail := make([]byte, 113) // pingTailV2Size
	return append(fireBuf, tail...), nil
}
