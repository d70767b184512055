package session

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"vsoportal/internal/redis"
)

const endedChannel = "session:ended"

type endedMessage struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Origin    string `json:"origin"`
}

// Broadcaster tells other instances sharing the Redis store that a session
// ended here, so they drop their timers and drafts for it as well.
type Broadcaster struct {
	client *redis.Client
	origin string
}

func NewBroadcaster(client *redis.Client) *Broadcaster {
	return &Broadcaster{client: client, origin: uuid.NewString()}
}

// Attach publishes every local session end of reg and forgets sessions that
// other instances ended, until ctx is done.
func (b *Broadcaster) Attach(ctx context.Context, reg *Registry) error {
	reg.OnEnd(func(id, reason string) {
		b.publish(context.Background(), id, reason)
	})
	return b.listen(ctx, func(id, reason string) {
		if reg.Forget(ctx, id) {
			logSessionEvent("SESSION_END_REMOTE", id, "reason="+reason)
		}
	})
}

func (b *Broadcaster) publish(ctx context.Context, id, reason string) {
	if b == nil || b.client == nil || reason == ReasonRemote {
		return
	}
	payload, err := json.Marshal(endedMessage{SessionID: id, Reason: reason, Origin: b.origin})
	if err != nil {
		log.Printf("session broadcast marshal failed: %v", err)
		return
	}
	if err := b.client.Publish(ctx, endedChannel, payload); err != nil {
		log.Printf("session broadcast publish failed: %v", err)
	}
}

// listen subscribes before returning and then handles messages in the background.
func (b *Broadcaster) listen(ctx context.Context, handler func(id, reason string)) error {
	pubsub, err := b.client.Subscribe(ctx, endedChannel)
	if err != nil {
		return err
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ended endedMessage
				if err := json.Unmarshal([]byte(msg.Payload), &ended); err != nil {
					log.Printf("session broadcast decode failed: %v", err)
					continue
				}
				if ended.Origin == b.origin {
					continue
				}
				handler(ended.SessionID, ended.Reason)
			}
		}
	}()
	return nil
}
