package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThreadEvent describes a new review-thread message for subscribers.
type ThreadEvent struct {
	AuthorUsername string `json:"authorUsername"`
	Content        string `json:"content"`
}

type teamPayload struct {
	Type   string `json:"type"`
	TeamID string `json:"teamId"`
}

type threadPayload struct {
	Type           string `json:"type"`
	ThreadID       string `json:"threadId"`
	AuthorUsername string `json:"authorUsername"`
	Content        string `json:"content"`
}

// envelope is the wire format on the Redis channel: which room, what bytes.
type envelope struct {
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

// Notifier pushes game events into hub rooms. With a Redis client attached
// it publishes through pub/sub so every node's hub sees the event; without
// one it broadcasts into the local hub only.
type Notifier struct {
	hub     *Hub
	rdb     *redis.Client
	sub     *redis.PubSub
	channel string
}

// NewNotifier returns a single-node notifier backed by the local hub.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// NewRedisNotifier connects to Redis, subscribes to the event channel and
// forwards published events into the local hub. The subscription is live
// before this returns.
func NewRedisNotifier(hub *Hub, redisURL string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	n := &Notifier{hub: hub, rdb: rdb, channel: "bingo:events"}
	n.sub = rdb.Subscribe(context.Background(), n.channel)
	if _, err := n.sub.Receive(ctx); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", n.channel, err)
	}
	go n.forward()

	return n, nil
}

// Close stops the subscriber and releases the Redis connection.
func (n *Notifier) Close() error {
	if n.sub != nil {
		_ = n.sub.Close()
	}
	if n.rdb != nil {
		return n.rdb.Close()
	}
	return nil
}

// NotifyTeamRoom tells a team's subscribers that board or leaderboard state
// changed. Fire-and-forget.
func (n *Notifier) NotifyTeamRoom(teamID string) {
	payload, err := json.Marshal(teamPayload{Type: "team_update", TeamID: teamID})
	if err != nil {
		log.Printf("realtime: marshal team event: %v", err)
		return
	}
	n.publish(TeamRoom(teamID), payload)
}

// NotifyThreadRoom tells a review thread's subscribers about a new message.
// Fire-and-forget.
func (n *Notifier) NotifyThreadRoom(threadID string, ev ThreadEvent) {
	payload, err := json.Marshal(threadPayload{
		Type:           "thread_message",
		ThreadID:       threadID,
		AuthorUsername: ev.AuthorUsername,
		Content:        ev.Content,
	})
	if err != nil {
		log.Printf("realtime: marshal thread event: %v", err)
		return
	}
	n.publish(ThreadRoom(threadID), payload)
}

func (n *Notifier) publish(room string, payload []byte) {
	if n.rdb == nil {
		n.hub.Broadcast(room, payload)
		return
	}

	msg, err := json.Marshal(envelope{Room: room, Data: payload})
	if err != nil {
		log.Printf("realtime: marshal envelope: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, msg).Err(); err != nil {
		log.Printf("realtime: publish to %s: %v", n.channel, err)
		// The local hub still gets the event.
		n.hub.Broadcast(room, payload)
	}
}

// forward pumps published envelopes into the local hub. Events published by
// this node come back through here too, so the local broadcast happens
// exactly once.
func (n *Notifier) forward() {
	for msg := range n.sub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("realtime: bad envelope on %s: %v", n.channel, err)
			continue
		}
		n.hub.Broadcast(env.Room, env.Data)
	}
}
