package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BluEye-Robotics/oculus-driver/internal/fire"
)

var standbyCmd = &cobra.Command{
	Use:   "standby",
	Short: "Connect to a sonar and put it into standby",
	RunE:  runStandby,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Connect to a sonar and resume pinging at the normal rate (each run starts with no earlier rate to restore)",
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(standbyCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runStandby(cmd *cobra.Command, args []string) error {
	return withController(func(ctrl *fire.Controller) error {
		ok, err := ctrl.Standby()
		if err != nil {
			return fmt.Errorf("standby: %w", err)
		}
		if !ok {
			return fmt.Errorf("standby: short write to sonar")
		}
		fmt.Println("standby requested")
		return nil
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	return withController(func(ctrl *fire.Controller) error {
		ok, err := ctrl.Resume()
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		if !ok {
			return fmt.Errorf("resume: short write to sonar")
		}
		fmt.Println("resume requested")
		return nil
	})
}

// withController opens a session, wraps it in a fire.Controller, and runs
// fn against it — the shared plumbing behind standby/resume.
func withController(fn func(ctrl *fire.Controller) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	listener, sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer listener.Close()

	ctrl := fire.NewController(sess, fire.DefaultConfig(), nil)
	return fn(ctrl)
}
