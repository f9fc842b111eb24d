package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BluEye-Robotics/oculus-driver/internal/status"
	"github.com/BluEye-Robotics/oculus-driver/internal/wire"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Listen for status beacons and print the sonars announcing themselves",
	Long: `discover binds the status port and prints one line per distinct sonar
device id seen, until --timeout elapses or it is interrupted.

Exit codes:
  0 - at least one sonar was seen
  1 - timeout elapsed with nothing seen`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 10*time.Second, "how long to listen before giving up")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	port, err := statusPort(statusAddr)
	if err != nil {
		return err
	}
	listener, err := status.NewListener(port, nil)
	if err != nil {
		return err
	}
	defer listener.Close()

	var mu sync.Mutex
	seen := make(map[uint16]bool)
	listener.Status().Append(func(msg wire.StatusMessage) {
		id := msg.Head.SrcDeviceID
		mu.Lock()
		defer mu.Unlock()
		if seen[id] {
			return
		}
		seen[id] = true
		fmt.Printf("sonar id=%d ip=%s\n", id, msg.IP())
	})

	go listener.Run(ctx)

	select {
	case <-ctx.Done():
	case <-time.After(discoverTimeout):
	}

	mu.Lock()
	count := len(seen)
	mu.Unlock()
	if count == 0 {
		fmt.Println("no sonars seen")
		os.Exit(1)
	}
	return nil
}
