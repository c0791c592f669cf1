package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/perception/pkg/metrics"
	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/platform"
	"github.com/ethpandaops/perception/pkg/timing"
	"github.com/sirupsen/logrus"
)

// ErrNoChannelOpener is returned when content mode is used without a
// channel opener.
var ErrNoChannelOpener = errors.New("no channel opener configured")

// Snapshot is a point-in-time copy of an instance.
type Snapshot struct {
	ID         string      `json:"id"`
	TestID     string      `json:"test_id"`
	Mode       timing.Mode `json:"mode"`
	State      State       `json:"state"`
	Run        *model.Run  `json:"run,omitempty"`
	Persisted  bool        `json:"persisted"`
	Embedded   bool        `json:"embedded"`
	Generation uint64      `json:"generation"`
}

// Instance is one lifecycle. It owns the run scaffold, the frame and the
// content channel; all transitions are serialized.
type Instance struct {
	id       string
	test     model.Test
	clientID *string
	mode     timing.Mode
	content  timing.Content
	adapter  Adapter
	log      logrus.FieldLogger
	frame    Frame

	mu        sync.Mutex
	state     State
	run       *model.Run
	persisted bool
	stopSent  bool
	channel   timing.Channel

	// lastActive is wall-clock time of the last transition or payload.
	lastActive time.Time
}

// NewInstance creates an IDLE instance for test.
func NewInstance(
	log logrus.FieldLogger,
	id string,
	test model.Test,
	clientID *string,
	mode timing.Mode,
	adapter Adapter,
) *Instance {
	test.Canonicalize()

	return &Instance{
		id:       id,
		test:     test,
		clientID: clientID,
		mode:     mode,
		content:  timing.ResolveContent(test.Source),
		adapter:  adapter.withDefaults(),
		log: log.WithFields(logrus.Fields{
			"component": "lifecycle",
			"instance":  id,
			"test_id":   test.ID,
		}),
		state:      StateIdle,
		lastActive: time.Now(),
	}
}

// ID returns the instance handle.
func (i *Instance) ID() string {
	return i.id
}

// Test returns the test the instance measures.
func (i *Instance) Test() model.Test {
	return i.test
}

// Mode returns the measurement mode.
func (i *Instance) Mode() timing.Mode {
	return i.mode
}

// Frame returns the embedding slot.
func (i *Instance) Frame() *Frame {
	return &i.frame
}

// State returns the current state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.state
}

// Snapshot returns a copy of the instance state.
func (i *Instance) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.snapshot()
}

// Toggle advances the lifecycle by one step. When an effect fails the
// state is kept and the error returned; the toggle may be retried.
func (i *Instance) Toggle(ctx context.Context) (Snapshot, error) {
	return i.fire(ctx, EventToggle)
}

// Reset abandons the current execution and re-arms with a fresh run.
// Persisted runs are left as they are.
func (i *Instance) Reset(ctx context.Context) (Snapshot, error) {
	return i.fire(ctx, EventReset)
}

// Close releases the channel and frame and returns the instance to IDLE.
func (i *Instance) Close(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, eff := range []Effect{EffectCloseChannel, EffectTeardown, EffectDiscard} {
		_ = i.apply(ctx, eff)
	}

	i.state = StateIdle
}

// LastActive returns when the instance last transitioned or received a
// payload.
func (i *Instance) LastActive() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.lastActive
}

func (i *Instance) fire(ctx context.Context, ev Event) (Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.lastActive = time.Now()

	next, effects, err := Transition(i.state, ev, i.mode)
	if err != nil {
		return i.snapshot(), err
	}

	for _, eff := range effects {
		if err := i.apply(ctx, eff); err != nil {
			metrics.RecordEffectError(string(eff))

			i.log.WithError(err).WithFields(logrus.Fields{
				"effect": eff,
				"state":  i.state,
			}).Warn("Effect failed, state unchanged")

			return i.snapshot(), fmt.Errorf("%s: %w", eff, err)
		}
	}

	if next != i.state {
		metrics.RecordTransition(string(i.state), string(next))

		i.log.WithFields(logrus.Fields{
			"from": i.state,
			"to":   next,
		}).Debug("Transition")
	}

	i.state = next

	return i.snapshot(), nil
}

// apply executes one effect. Must be called with mu held. Every effect is
// idempotent so a retried transition does not repeat completed work.
func (i *Instance) apply(ctx context.Context, eff Effect) error {
	switch eff {
	case EffectAllocateRun:
		i.run = &model.Run{TestID: i.test.ID, ClientIdentifier: i.clientID}
		i.persisted = false
		i.stopSent = false

	case EffectStampStart:
		if i.run.StartTime == nil {
			now := i.now()
			i.run.StartTime = &now
		}

	case EffectOpenChannel:
		if i.channel != nil {
			return nil
		}

		if i.adapter.Channels == nil {
			return ErrNoChannelOpener
		}

		ch, err := i.adapter.Channels.OpenChannel(ctx, i.id)
		if err != nil {
			return fmt.Errorf("opening channel: %w", err)
		}

		ch.OnMessage(i.payloadHandler(i.run))
		i.channel = ch

		metrics.ChannelOpened()

	case EffectEmbed:
		if _, loaded := i.frame.Current(); loaded {
			return nil
		}

		i.frame.Load(i.content)

		if i.adapter.Embedder != nil {
			if err := i.adapter.Embedder.Embed(ctx, i.id, i.content); err != nil {
				i.frame.Clear()

				return fmt.Errorf("embedding content: %w", err)
			}
		}

	case EffectStampStop:
		if i.run.StopTime == nil {
			now := i.now()
			if now.Before(*i.run.StartTime) {
				now = *i.run.StartTime
			}

			i.run.StopTime = &now
		}

	case EffectTeardown:
		i.teardown(ctx)

	case EffectSendStop:
		// One stop per run; a second one would re-arm the payload gate.
		if i.channel == nil || i.stopSent {
			return nil
		}

		if err := i.channel.Send(ctx, timing.Instruction{Type: timing.InstructionStop}); err != nil {
			i.log.WithError(err).Warn("Failed to send stop instruction, payload will be missing")

			return nil
		}

		i.stopSent = true

	case EffectPersist:
		return i.persist(ctx)

	case EffectCloseChannel:
		i.closeChannel()

	case EffectDiscard:
		i.run = nil
		i.persisted = false
		i.stopSent = false

	default:
		return fmt.Errorf("unknown effect %q", eff)
	}

	return nil
}

func (i *Instance) persist(ctx context.Context) error {
	if i.persisted {
		return nil
	}

	if err := i.adapter.Store.CreateRun(ctx, i.run); err != nil {
		metrics.RecordStoreError("create_run")

		return fmt.Errorf("persisting run: %w", err)
	}

	i.persisted = true

	delta, complete := i.run.Delta()
	metrics.RecordRunPersisted(string(platform.Classify(i.run.ClientIdentifier)), delta, complete)

	i.log.WithFields(logrus.Fields{
		"run_id":   i.run.ID,
		"delta_ms": delta,
	}).Info("Run persisted")

	// A payload that arrived while the first write was pending went out
	// with it.
	if i.run.MeasurementPayload != nil {
		metrics.RecordPayloadUpdate(metrics.PayloadInitial)
		i.finishContent(ctx)
	}

	return nil
}

// payloadHandler merges payloads for run only; a handler outliving its run
// is ignored.
func (i *Instance) payloadHandler(run *model.Run) func(timing.Message) {
	return func(msg timing.Message) {
		i.mu.Lock()
		defer i.mu.Unlock()

		if i.run != run {
			i.log.Debug("Dropping payload for discarded run")

			return
		}

		i.lastActive = time.Now()

		if !i.persisted {
			run.MeasurementPayload = msg.Payload

			i.log.Debug("Payload held until the run is persisted")

			return
		}

		i.mergePayload(msg.Payload)
	}
}

// mergePayload attaches payload with a follow-up update. Failure is logged
// and dropped; the persisted start/stop pair is unaffected.
func (i *Instance) mergePayload(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), i.adapter.PayloadTimeout)
	defer cancel()

	upd := copyRun(i.run)
	upd.MeasurementPayload = payload

	if err := i.adapter.Store.UpdateRun(ctx, upd); err != nil {
		metrics.RecordPayloadUpdate(metrics.PayloadFailed)
		metrics.RecordStoreError("update_run")

		i.log.WithError(err).WithField("run_id", i.run.ID).Warn("Failed to attach measurement payload")
	} else {
		i.run.Rev = upd.Rev
		i.run.MeasurementPayload = upd.MeasurementPayload

		metrics.RecordPayloadUpdate(metrics.PayloadMerged)

		i.log.WithField("run_id", i.run.ID).Debug("Measurement payload attached")
	}

	i.finishContent(ctx)
}

func (i *Instance) finishContent(ctx context.Context) {
	i.teardown(ctx)
	i.closeChannel()
}

func (i *Instance) teardown(ctx context.Context) {
	if _, loaded := i.frame.Current(); !loaded {
		return
	}

	i.frame.Clear()

	if i.adapter.Embedder != nil {
		if err := i.adapter.Embedder.Teardown(ctx, i.id); err != nil {
			i.log.WithError(err).Warn("Failed to tear down content")
		}
	}
}

func (i *Instance) closeChannel() {
	if i.channel == nil {
		return
	}

	if err := i.channel.Close(); err != nil {
		i.log.WithError(err).Debug("Failed to close channel")
	}

	i.channel = nil

	metrics.ChannelClosed()
}

func (i *Instance) now() time.Time {
	return i.adapter.Now().UTC().Truncate(time.Microsecond)
}

func (i *Instance) snapshot() Snapshot {
	_, embedded := i.frame.Current()

	s := Snapshot{
		ID:         i.id,
		TestID:     i.test.ID,
		Mode:       i.mode,
		State:      i.state,
		Persisted:  i.persisted,
		Embedded:   embedded,
		Generation: i.frame.Generation(),
	}

	if i.run != nil {
		s.Run = copyRun(i.run)
	}

	return s
}

func copyRun(r *model.Run) *model.Run {
	out := *r

	if r.StartTime != nil {
		t := *r.StartTime
		out.StartTime = &t
	}

	if r.StopTime != nil {
		t := *r.StopTime
		out.StopTime = &t
	}

	if r.MeasurementPayload != nil {
		out.MeasurementPayload = append([]byte(nil), r.MeasurementPayload...)
	}

	return &out
}
