package ledger

import (
	"sync"

	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/models"
)

// Observer receives ledger events synchronously after commit. Observers run
// while the account is still locked and must not mutate the ledger.
type Observer interface {
	OnLedgerEvent(event models.LedgerEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event models.LedgerEvent)

func (f ObserverFunc) OnLedgerEvent(event models.LedgerEvent) { f(event) }

// Broadcaster fans committed ledger events out to observers and channel
// subscribers. Channel sends never block; a full subscriber misses the event.
type Broadcaster struct {
	mu        sync.RWMutex
	observers []Observer
	subs      map[int]chan models.LedgerEvent
	nextID    int
	logger    *common.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *common.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[int]chan models.LedgerEvent),
		logger: logger,
	}
}

// AddObserver registers o for every future event.
func (b *Broadcaster) AddObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Subscribe returns a buffered channel of events and a cancel func that
// closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan models.LedgerEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.LedgerEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers event to every observer and subscriber.
func (b *Broadcaster) Publish(event models.LedgerEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, o := range b.observers {
		o.OnLedgerEvent(event)
	}
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn().
				Int("subscriber", id).
				Str("type", string(event.Type)).
				Str("user_id", event.UserID).
				Msg("Ledger event dropped, subscriber buffer full")
		}
	}
}
