package lifecycle

import (
	"context"
	"time"

	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/timing"
)

// DefaultPayloadTimeout bounds the follow-up payload update.
const DefaultPayloadTimeout = 10 * time.Second

// Persister is the slice of the document store the lifecycle writes to.
type Persister interface {
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
}

// ChannelOpener opens the content channel for an instance.
type ChannelOpener interface {
	OpenChannel(ctx context.Context, instanceID string) (timing.Channel, error)
}

// ChannelOpenerFunc adapts a function to ChannelOpener.
type ChannelOpenerFunc func(ctx context.Context, instanceID string) (timing.Channel, error)

// OpenChannel implements ChannelOpener.
func (f ChannelOpenerFunc) OpenChannel(ctx context.Context, instanceID string) (timing.Channel, error) {
	return f(ctx, instanceID)
}

// Embedder is notified when content is loaded into or removed from an
// instance's frame.
type Embedder interface {
	Embed(ctx context.Context, instanceID string, c timing.Content) error
	Teardown(ctx context.Context, instanceID string) error
}

// Adapter executes effects outside the pure transition table. Store is
// required; Channels is required for content mode.
type Adapter struct {
	Store          Persister
	Channels       ChannelOpener
	Embedder       Embedder
	Now            func() time.Time
	PayloadTimeout time.Duration
}

func (a Adapter) withDefaults() Adapter {
	if a.Now == nil {
		a.Now = time.Now
	}

	if a.PayloadTimeout <= 0 {
		a.PayloadTimeout = DefaultPayloadTimeout
	}

	return a
}
