// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// TurnsTopic is the topic turn events are published on.
const TurnsTopic = "palaver.turns"

// EventKind identifies a turn event.
type EventKind string

const (
	EventTurnStarted   EventKind = "turn_started"
	EventFragment      EventKind = "fragment"
	EventTurnCompleted EventKind = "turn_completed"
	EventTurnFailed    EventKind = "turn_failed"
)

// Event is one step of a turn as seen by subscribers.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Backend        string    `json:"backend,omitempty"`
	Model          string    `json:"model,omitempty"`
	// Text is the fragment just received.
	Text string `json:"text,omitempty"`
	// Content is the running total for fragments and the final content
	// for turn_completed and turn_failed.
	Content string    `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Terminal reports whether the event ends a turn.
func (e Event) Terminal() bool {
	return e.Kind == EventTurnCompleted || e.Kind == EventTurnFailed
}

// Events fans turn events out to subscribers over an in-process watermill
// pub/sub. Publishing blocks until every subscriber has taken the event so
// fragments arrive in order.
type Events struct {
	pubsub *gochannel.GoChannel
	log    zerolog.Logger
}

// NewEvents creates an event bus.
func NewEvents(log zerolog.Logger) *Events {
	return &Events{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
		log: log,
	}
}

// Publish sends ev to all current subscribers. Errors are logged, never
// returned: events are advisory.
func (e *Events) Publish(ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("encode turn event")
		return
	}
	if err := e.pubsub.Publish(TurnsTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		e.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("publish turn event")
	}
}

// Subscribe returns a channel of events that is closed when ctx is done or
// the bus is closed. The caller must keep reading until then.
func (e *Events) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := e.pubsub.Subscribe(ctx, TurnsTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				e.log.Debug().Err(err).Msg("drop undecodable turn event")
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				msg.Ack()
				return
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes every subscription.
func (e *Events) Close() error {
	if e == nil {
		return nil
	}
	return e.pubsub.Close()
}
