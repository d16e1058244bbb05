package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/twsync/internal/sim"
	"github.com/srg/twsync/internal/telemetry"
	"github.com/srg/twsync/pkg/config"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a master/slave pair on a simulated BT clock",
	Long: `Connects a phone to a simulated master, pairs it with a slave and plays
audio on both for the requested number of APS periods. The report shows the
buffer levels, the APS levels chosen by the drift compensator and the BT clock
at which each synchronized UI event was dispatched on each device.

Examples:
  # 30 seconds of playback with a phone running 300 ppm fast
  twsctl simulate --ticks 2000 --source-ppm 300

  # Synchronized UI event every second, JSON report
  twsctl simulate --ui-every 66 --json

  # Controller callbacks on a work queue goroutine, as on the device
  twsctl simulate --work-queue

  # Slave running US281B-era firmware, messages mirrored to MQTT
  twsctl simulate --legacy-slave --mqtt-broker tcp://localhost:1883`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simTicks       int
	simSourcePPM   int
	simSlavePPM    int
	simUIEvery     int
	simPrefill     int
	simLegacySlave bool
	simWorkQueue   bool
	simBroker      string
	simJSON        bool
)

func init() {
	simulateCmd.Flags().IntVar(&simTicks, "ticks", 2000, "Number of APS periods to simulate")
	simulateCmd.Flags().IntVar(&simSourcePPM, "source-ppm", 0, "Phone sample clock offset against the master, in ppm")
	simulateCmd.Flags().IntVar(&simSlavePPM, "slave-ppm", 0, "Slave playback clock offset against the master, in ppm")
	simulateCmd.Flags().IntVar(&simUIEvery, "ui-every", 0, "Send a synchronized UI event every n periods; 0 disables")
	simulateCmd.Flags().IntVar(&simPrefill, "prefill", 0, "Audio buffered before playback, in ms; defaults to between the watermarks")
	simulateCmd.Flags().BoolVar(&simLegacySlave, "legacy-slave", false, "Run the slave with the US281B protocol")
	simulateCmd.Flags().BoolVar(&simWorkQueue, "work-queue", false, "Run controller callbacks on a work queue instead of inline")
	simulateCmd.Flags().StringVar(&simBroker, "mqtt-broker", "", "Mirror application messages to this MQTT broker")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "Print the report as JSON")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	if simTicks <= 0 {
		return fmt.Errorf("--ticks must be positive, got %d", simTicks)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	if simBroker != "" {
		cfg.MQTT.Broker = simBroker
	}

	cmd.SilenceUsage = true

	sm, err := sim.New(sim.Options{
		Config:        *cfg,
		Ticks:         simTicks,
		SourcePPM:     simSourcePPM,
		SlaveDriftPPM: simSlavePPM,
		UIEvery:       simUIEvery,
		PrefillMillis: simPrefill,
		LegacySlave:   simLegacySlave,
		WorkQueue:     simWorkQueue,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	sink, err := attachTelemetry(cfg.MQTT, sm, logger)
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	report, err := sm.Run(ctx)
	if err != nil {
		return err
	}

	p := newPrinter(cmd)
	if simJSON {
		return p.json(report)
	}
	printReport(p, cfg.APS.IncreaseWatermark, report)
	return nil
}

// attachTelemetry mirrors both devices to cfg.Broker; it returns a nil sink
// when no broker is configured
func attachTelemetry(cfg config.MQTTConfig, sm *sim.Simulator, logger *logrus.Logger) (*telemetry.Sink, error) {
	pub, err := telemetry.Connect(cfg, logger)
	if errors.Is(err, telemetry.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sink := telemetry.NewSink(pub, cfg, logger)
	for _, d := range []*sim.Device{sm.Master, sm.Slave} {
		sink.Attach(d.Bus, d.Name)
	}
	return sink, nil
}

func printReport(p *printer, highWatermark int, r sim.Report) {
	p.field("ticks", r.Ticks)
	p.field("elapsed", fmt.Sprintf("%.3f s", float64(r.ElapsedUs)/1e6))
	p.rule()
	p.field("master level", r.MasterLevel)
	p.field("slave level", r.SlaveLevel)
	p.field("level moves", r.LevelMoves)
	p.field("master fill", fmt.Sprintf("%d ms", r.MasterFill))
	p.field("slave fill", fmt.Sprintf("%d ms", r.SlaveFill))
	p.field("fill range", fmt.Sprintf("%d..%d ms", r.MinFill, r.MaxFill))
	p.rule()
	p.check(r.Overflow == 0, "overflow", fmt.Sprintf("%d bytes", r.Overflow))
	p.check(r.MaxFill <= highWatermark+5, "max fill", fmt.Sprintf("%d ms", r.MaxFill))
	p.check(r.Restarts == 0, "restarts", r.Restarts)
	p.check(r.MaxSkew <= 50, "max skew", fmt.Sprintf("%d frames", r.MaxSkew))
	p.check(dispatchesAligned(r.Dispatches), "ui dispatch", fmt.Sprintf("%d", len(r.Dispatches)))
}

// dispatchesAligned reports whether every UI event seen on both devices was
// dispatched at the same BT clock on each
func dispatchesAligned(ds []sim.Dispatch) bool {
	first := map[uint32]uint32{}
	for _, d := range ds {
		if c, ok := first[d.Param]; ok {
			if c != d.Clock {
				return false
			}
			continue
		}
		first[d.Param] = d.Clock
	}
	return true
}
