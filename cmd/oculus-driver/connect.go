package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Discover a sonar and hold the connection open until interrupted",
	Long: `connect waits for a status beacon, connects over TCP, prints the sonar
id, and then prints every error the session reports until interrupted
(Ctrl-C). A lost connection is reported but does not end the command.

Exit codes:
  0 - clean shutdown on interrupt
  1 - no sonar connected before the timeout, or another startup error`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	listener, sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer listener.Close()

	fmt.Printf("connected: sonar id=%d\n", sess.SonarID())
	sess.Error.Append(func(err error) {
		fmt.Printf("error: %v\n", err)
	})

	<-ctx.Done()
	fmt.Println("shutting down")
	return nil
}
