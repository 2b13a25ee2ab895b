package rundown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrSubscriptionLost is reported by Subscription.Err when the channel ended
// without the subscriber asking for it.
var ErrSubscriptionLost = errors.New("subscription lost")

// Subscription represents an active Pub/Sub subscription to a rundown's changes.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan Notification
	errors <-chan error
	cancel func()
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Events returns the channel of notifications.
// The channel is closed when the subscription ends for any reason.
func (s *Subscription) Events() <-chan Notification {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
// Malformed envelopes are reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Err reports why the events channel was closed: nil after Close or context
// cancellation, ErrSubscriptionLost otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Subscribe subscribes to the changes channel of one rundown.
// The subscription is confirmed with Redis before returning, so an unreachable
// server is reported here rather than as a silently empty channel.
//
// Events are delivered on a buffered channel (size 64). Redis Pub/Sub is
// at-most-once: notifications published while disconnected are lost.
func (c *Client) Subscribe(ctx context.Context, rundownID string) (*Subscription, error) {
	channel := ChangesChannel(c.namespace, rundownID)
	pubsub := c.rdb.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, Wrap(KindBackend, "subscribe", fmt.Errorf("failed to subscribe to %s: %w", channel, err))
	}

	eventsChan := make(chan Notification, 64)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	sub := &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}

	go func() {
		defer close(errorsChan)
		defer close(eventsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if subCtx.Err() == nil {
						sub.setErr(ErrSubscriptionLost)
					}
					return
				}

				var n Notification
				err := json.Unmarshal([]byte(msg.Payload), &n)
				if err == nil {
					err = n.Validate()
				}
				if err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to decode notification: %w", err):
					case <-subCtx.Done():
						return
					default:
						// Error buffer full, drop the report but keep the subscription alive
					}
					continue
				}

				select {
				case eventsChan <- n:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

// Publish sends a raw notification on a rundown's channel.
// Normal writes publish automatically; this is for tooling and tests.
func (c *Client) Publish(ctx context.Context, rundownID string, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return c.rdb.Publish(ctx, ChangesChannel(c.namespace, rundownID), payload).Err()
}

// IsSubscriptionLost reports whether err marks an abnormal end of a subscription.
func IsSubscriptionLost(err error) bool {
	return errors.Is(err, ErrSubscriptionLost)
}
