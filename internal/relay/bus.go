// internal/relay/bus.go
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveypilot/api/schemas"
)

// ErrBusClosed is returned by Post once Shutdown has started.
var ErrBusClosed = errors.New("relay bus is shut down")

// Bus is an in-process publish/subscribe relay keyed by channel name. It is
// the only path between the automation engine and the operator surface.
type Bus struct {
	logger *zap.Logger

	subscribers map[schemas.Channel][]chan Message
	mu          sync.RWMutex
	bufferSize  int

	// activePosts tracks Post calls that may still send on subscriber channels.
	activePosts sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// NewBus creates a bus whose subscriber channels buffer up to bufferSize messages.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("relay"),
		subscribers:  make(map[schemas.Channel][]chan Message),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post wraps payload in a Message and delivers it to every subscriber of ch.
// Blocks while a subscriber buffer is full. A post with no subscribers is dropped.
func (b *Bus) Post(ctx context.Context, ch schemas.Channel, payload interface{}) error {
	msg, err := NewMessage(ch, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, msg)
}

// Publish delivers an already-built message.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return ErrBusClosed
	}
	b.activePosts.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePosts.Done()

	b.mu.RLock()
	subs := b.subscribers[msg.Channel]
	targets := make([]chan Message, len(subs))
	copy(targets, subs)
	b.mu.RUnlock()

	if len(targets) == 0 {
		b.logger.Debug("Message dropped, no subscribers.", zap.String("channel", string(msg.Channel)))
		return nil
	}

	b.logger.Debug("Relaying message.", zap.String("channel", string(msg.Channel)), zap.String("id", msg.ID))
	for _, target := range targets {
		select {
		case target <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.shutdownChan:
			return fmt.Errorf("failed to relay %s: %w", msg.Channel, ErrBusClosed)
		}
	}
	return nil
}

// Subscribe returns a channel receiving messages for the given channels and a
// function that removes the subscription. The returned channel is closed on Shutdown.
func (b *Bus) Subscribe(channels ...schemas.Channel) (<-chan Message, func()) {
	if len(channels) == 0 {
		panic("relay: must subscribe to at least one channel")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.shutdownMu.Lock()
	closed := b.isShutdown
	b.shutdownMu.Unlock()
	if closed {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Message, b.bufferSize)
	subscribed := make([]schemas.Channel, len(channels))
	copy(subscribed, channels)
	for _, name := range subscribed {
		b.subscribers[name] = append(b.subscribers[name], ch)
	}

	var unsubscribeOnce sync.Once
	unsubscribe := func() {
		unsubscribeOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, name := range subscribed {
				subs := b.subscribers[name]
				for i, existing := range subs {
					if existing == ch {
						b.subscribers[name] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
				if len(b.subscribers[name]) == 0 {
					delete(b.subscribers, name)
				}
			}
		})
	}
	return ch, unsubscribe
}

// Shutdown stops accepting posts, waits for in-flight deliveries to give up,
// and closes every remaining subscriber channel. Safe to call more than once.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePosts.Wait()

		b.mu.Lock()
		unique := make(map[chan Message]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		b.subscribers = make(map[schemas.Channel][]chan Message)
		b.mu.Unlock()

		b.logger.Debug("Relay bus shut down.")
	})
}
