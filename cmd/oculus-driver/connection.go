package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/BluEye-Robotics/oculus-driver/internal/config"
	"github.com/BluEye-Robotics/oculus-driver/internal/session"
	"github.com/BluEye-Robotics/oculus-driver/internal/status"
)

// dialTimeout bounds how long connect/fire/standby/resume wait for the
// session to reach session.Connected before giving up.
const dialTimeout = 15 * time.Second

// openSession loads configuration, starts the status listener and session
// executor, and blocks until a sonar is discovered and connected (or ctx
// is canceled / dialTimeout elapses). Callers are responsible for closing
// the returned listener once done.
func openSession(ctx context.Context) (*status.Listener, *session.Session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if configPath == "" {
		cfg.StatusAddr = statusAddr
		cfg.DataPort = dataPort
	}

	port, err := statusPort(cfg.StatusAddr)
	if err != nil {
		return nil, nil, err
	}
	listener, err := status.NewListener(port, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("status listener: %w", err)
	}

	go listener.Run(ctx)

	sessCfg := session.DefaultConfig()
	sessCfg.DataPort = cfg.DataPort
	sessCfg.CheckerPeriod = cfg.CheckerPeriod
	sessCfg.StatusTimeout = cfg.StatusTimeout
	sessCfg.MessageTimeout = cfg.MessageTimeout

	sess := session.New(sessCfg, listener, nil)
	go sess.Run(ctx)
	sess.ResetConnection()

	deadline := time.After(dialTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !sess.Connected() {
		select {
		case <-ctx.Done():
			listener.Close()
			return nil, nil, ctx.Err()
		case <-deadline:
			listener.Close()
			return nil, nil, fmt.Errorf("timed out waiting for a sonar to connect")
		case <-ticker.C:
		}
	}
	return listener, sess, nil
}

// statusPort extracts the port from a "host:port" status address.
// status.NewListener always binds 0.0.0.0, so the host half is informational
// only and is not returned.
func statusPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid status address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid status address %q: %w", addr, err)
	}
	return port, nil
}
