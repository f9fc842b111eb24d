package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BluEye-Robotics/oculus-driver/internal/fire"
	"github.com/BluEye-Robotics/oculus-driver/internal/wire"
)

var (
	fireMasterMode uint8
	fireRange      float64
	fireGain       float64
	fireRate       uint8
)

var fireCmd = &cobra.Command{
	Use:   "fire",
	Short: "Connect to a sonar and request one fire descriptor, printing the confirmed feedback",
	Long: `fire connects, sends a fire descriptor built from its flags, and waits
for the sonar's feedback to cohere with the request (spec.md's coherence
rule) before printing the confirmed descriptor and exiting.

Exit codes:
  0 - the sonar confirmed the descriptor
  1 - the sonar never confirmed it within the retry budget`,
	RunE: runFire,
}

func init() {
	rootCmd.AddCommand(fireCmd)
	fireCmd.Flags().Uint8Var(&fireMasterMode, "master-mode", uint8(wire.MasterModeHighFreqNarrow), "1=low-freq wide, 2=high-freq narrow")
	fireCmd.Flags().Float64Var(&fireRange, "range", 2.54, "range in metres")
	fireCmd.Flags().Float64Var(&fireGain, "gain", 50, "gain percent, 0-100")
	fireCmd.Flags().Uint8Var(&fireRate, "rate", uint8(wire.PingRateNormal), "0=10Hz 1=15Hz 2=40Hz 3=5Hz 4=2Hz 5=standby")
}

func runFire(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	listener, sess, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer listener.Close()

	ctrl := fire.NewController(sess, fire.DefaultConfig(), nil)

	req := wire.DefaultFire()
	req.MasterMode = fireMasterMode
	req.Range = fireRange
	req.Gain = fireGain
	req.PingRate = wire.PingRate(fireRate)

	feedback, err := ctrl.RequestPingConfig(ctx, req)
	if err != nil {
		return fmt.Errorf("fire: %w", err)
	}
	if feedback.Head.MsgID == 0 {
		return fmt.Errorf("fire: sonar never confirmed the descriptor")
	}

	fmt.Printf("confirmed: master_mode=%d range=%.2f gain=%.2f ping_rate=%d\n",
		ctrl.LastConfig().MasterMode, ctrl.LastConfig().Range, ctrl.LastConfig().Gain, ctrl.LastConfig().PingRate)
	return nil
}
