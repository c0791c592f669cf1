package docstore

import (
	"sync"

	"github.com/ethpandaops/perception/pkg/model"
)

const subscriberBuffer = 16

type subscriber struct {
	testID string
	ch     chan model.Run
}

// notifier fans persisted runs out to change subscribers. Slow
// subscribers miss events rather than block writers.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]*subscriber, 4)}
}

func (n *notifier) subscribe(testID string) (<-chan model.Run, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	sub := &subscriber{
		testID: testID,
		ch:     make(chan model.Run, subscriberBuffer),
	}
	n.subs[id] = sub

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()

			if s, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(s.ch)
			}
		})
	}

	return sub.ch, cancel
}

func (n *notifier) publish(run model.Run) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		if sub.testID != "" && sub.testID != run.TestID {
			continue
		}

		select {
		case sub.ch <- run:
		default:
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, sub := range n.subs {
		close(sub.ch)
		delete(n.subs, id)
	}
}
