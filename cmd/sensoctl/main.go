// Command sensoctl is a development tool for exercising a sensocto server:
// it connects as a connector and streams simulated sensor measurements.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sensocto/sensocto-go/client"
	"github.com/sensocto/sensocto-go/config"
	"github.com/sensocto/sensocto-go/sensor"
)

var (
	flagServer  string
	flagToken   string
	flagConfig  string
	flagName    string
	flagVerbose bool

	flagSensors  int
	flagRateHz   int
	flagWaveform string
)

func main() {
	root := &cobra.Command{
		Use:           "sensoctl",
		Short:         "sensocto connector utility",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagServer, "server", "", "server base URL (overrides config file)")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token for channel joins")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a TOML connector config")
	root.PersistentFlags().StringVar(&flagName, "name", "", "connector name")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "Stream simulated measurements from concurrent sensors",
		RunE:  runSimulate,
	}
	simulate.Flags().IntVar(&flagSensors, "sensors", 1, "number of concurrent simulated sensors")
	simulate.Flags().IntVar(&flagRateHz, "rate", 10, "sampling rate per sensor in Hz")
	simulate.Flags().StringVar(&flagWaveform, "waveform", "sine", "waveform to generate (sine or noise)")
	root.AddCommand(simulate)

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func buildConfig() (config.Config, error) {
	var cfg config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagToken != "" {
		cfg.BearerToken = flagToken
	}
	if flagName != "" {
		cfg.ConnectorName = flagName
	}
	return cfg, cfg.Validate()
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	if flagSensors < 1 {
		return fmt.Errorf("sensors must be at least 1, got %d", flagSensors)
	}
	if flagRateHz < 1 {
		return fmt.Errorf("rate must be at least 1 Hz, got %d", flagRateHz)
	}
	if flagWaveform != "sine" && flagWaveform != "noise" {
		return fmt.Errorf("unknown waveform %q", flagWaveform)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	if err := c.ConnectWithRetry(); err != nil {
		return err
	}
	defer c.Disconnect()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < flagSensors; i++ {
		sensorCfg := config.NewSensorConfig(fmt.Sprintf("simulated-%d", i)).
			WithSensorType("simulated").
			WithAttributes("value").
			WithSamplingRate(flagRateHz)

		stream, err := c.RegisterSensor(sensorCfg)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer func() {
				if err := stream.Close(); err != nil {
					slog.Warn("Stream close failed", "sensor_id", stream.SensorID(), "error", err)
				}
			}()
			return simulateSensor(ctx, stream, flagRateHz, flagWaveform)
		})
	}

	slog.Info("Simulation running", "sensors", flagSensors, "rate_hz", flagRateHz, "waveform", flagWaveform)
	return g.Wait()
}

// simulateSensor batches one generated sample per tick until ctx is done.
func simulateSensor(ctx context.Context, stream *sensor.Stream, rateHz int, waveform string) error {
	ticker := time.NewTicker(time.Second / time.Duration(rateHz))
	defer ticker.Stop()

	phase := rand.Float64() * 2 * math.Pi
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var value float64
			switch waveform {
			case "sine":
				elapsed := time.Since(start).Seconds()
				value = math.Sin(2*math.Pi*0.1*elapsed + phase)
			case "noise":
				value = rand.NormFloat64()
			}
			if err := stream.AddToBatch("value", value); err != nil {
				return err
			}
		}
	}
}
