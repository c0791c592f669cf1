package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethpandaops/perception/pkg/lifecycle"
	"github.com/ethpandaops/perception/pkg/timing"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const payloadWait = 2 * time.Second

var (
	simulateRuns        int
	simulateConcurrency int
	simulateMode        string
	simulateDelay       time.Duration
	simulateClientID    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <test-id>",
	Short: "Record synthetic runs for a test",
	Long: `Drive measurement lifecycles against a test without a browser. In
content mode an in-process channel answers each stop instruction with a
synthetic payload. Useful for smoke testing a deployment's storage and
statistics.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().IntVar(&simulateRuns, "runs", 10, "number of runs to record")
	simulateCmd.Flags().IntVar(&simulateConcurrency, "concurrency", 1, "lifecycles driven in parallel")
	simulateCmd.Flags().StringVar(&simulateMode, "mode", string(timing.ModeUser), "measurement mode (user, content)")
	simulateCmd.Flags().DurationVar(&simulateDelay, "delay", 250*time.Millisecond, "time between start and stop")
	simulateCmd.Flags().StringVar(&simulateClientID, "client-id", "", "client identifier recorded on each run")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	mode, err := timing.ParseMode(simulateMode)
	if err != nil {
		return err
	}

	if simulateRuns < 1 || simulateConcurrency < 1 {
		return fmt.Errorf("--runs and --concurrency must be positive")
	}

	cfg, err := loadAPIConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	docs, stop, err := openDocStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()

	test, err := docs.GetTest(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading test: %w", err)
	}

	var clientID *string
	if simulateClientID != "" {
		clientID = &simulateClientID
	}

	mgr := lifecycle.NewManager(log, lifecycle.Adapter{
		Store:    docs,
		Channels: lifecycle.ChannelOpenerFunc(openSimulatedChannel),
	})
	defer mgr.CloseAll(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(simulateConcurrency)

	for n := range simulateRuns {
		g.Go(func() error {
			inst, err := mgr.StartLifecycle(gctx, *test, clientID, mode)
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close(context.Background(), inst.ID()) }()

			snap, err := driveOnce(gctx, inst)
			if err != nil {
				return fmt.Errorf("run %d: %w", n, err)
			}

			if mode == timing.ModeContent {
				snap = awaitPayload(gctx, inst)
			}

			log.WithFields(logrus.Fields{
				"run":    n,
				"run_id": snap.Run.ID,
			}).Debug("Simulated run recorded")

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"test_id": test.ID,
		"runs":    simulateRuns,
		"mode":    mode,
	}).Info("Simulation completed")

	return nil
}

// driveOnce toggles an instance from IDLE to DONE.
func driveOnce(ctx context.Context, inst *lifecycle.Instance) (lifecycle.Snapshot, error) {
	var snap lifecycle.Snapshot

	for step := range 3 {
		if step == 2 {
			select {
			case <-time.After(simulateDelay):
			case <-ctx.Done():
				return snap, ctx.Err()
			}
		}

		var err error

		snap, err = inst.Toggle(ctx)
		if err != nil {
			return snap, err
		}
	}

	return snap, nil
}

// awaitPayload polls until the payload is attached to the persisted run
// or payloadWait elapses. A missing payload is not an error.
func awaitPayload(ctx context.Context, inst *lifecycle.Instance) lifecycle.Snapshot {
	ctx, cancel := context.WithTimeout(ctx, payloadWait)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		snap := inst.Snapshot()
		if snap.Run != nil && snap.Persisted && len(snap.Run.MeasurementPayload) > 0 {
			return snap
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.WithField("instance", snap.ID).Warn("No payload received for simulated run")

			return snap
		}
	}
}

// openSimulatedChannel returns an in-process channel whose content side
// answers the stop instruction with a synthetic measurement.
func openSimulatedChannel(_ context.Context, _ string) (timing.Channel, error) {
	ch := timing.NewMemoryChannel()
	opened := time.Now()

	go func() {
		for in := range ch.Instructions() {
			if in.Type != timing.InstructionStop {
				continue
			}

			payload, err := json.Marshal(map[string]any{
				"simulated":  true,
				"elapsed_ms": time.Since(opened).Milliseconds(),
			})
			if err != nil {
				continue
			}

			ch.Post(payload)
		}
	}()

	return ch, nil
}
