package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aeternum-health/dispatch/config"
	"github.com/aeternum-health/dispatch/infra/logger"
	"github.com/aeternum-health/dispatch/infra/mqtt"
	"github.com/aeternum-health/dispatch/simulator"
)

var simCfg simulator.Config

var simulateCmd = &cobra.Command{
	Use:   "simulate <fleet-file>",
	Short: "Simulate ambulance crews answering dispatch orders over MQTT",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.Float64Var(&simCfg.SpeedKmh, "speed", 40, "driving speed in km/h")
	f.DurationVar(&simCfg.Interval, "interval", 5*time.Second, "position fix interval")
	f.Float64Var(&simCfg.TimeScale, "time-scale", 1, "distance multiplier per interval")
	f.DurationVar(&simCfg.SceneTime, "scene-time", 2*time.Minute, "time spent at the scene")
	f.DurationVar(&simCfg.ReturnTime, "return-time", time.Minute, "time spent returning")
	f.DurationVar(&simCfg.AckLatency, "ack-latency", 0, "ack latency")
	f.Float64Var(&simCfg.DropRate, "drop-rate", 0, "ack drop rate")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	simCfg.SetDefaults()
	if err := simCfg.Validate(); err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Setup(cfg.Logger); err != nil {
		return err
	}
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("simulate needs mqtt.broker")
	}
	fleet, err := readFleet(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("%s-sim-%d", mqttCfg.ClientID, time.Now().UnixNano())
	client, err := mqtt.NewPahoClient(mqttCfg)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Disconnect()

	crews, err := simulator.StartFleet(ctx, client, fleet, simCfg,
		simulator.RandomAck{Delay: simCfg.AckLatency, DropRate: simCfg.DropRate})
	if err != nil {
		return err
	}
	logger.New("simulator").Infof("simulating %d crews", len(crews))
	<-ctx.Done()
	for _, c := range crews {
		c.Wait()
	}
	return nil
}
