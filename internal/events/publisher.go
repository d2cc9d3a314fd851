// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/velohome/velosync/internal/config"
	"github.com/velohome/velosync/internal/logging"
	"github.com/velohome/velosync/internal/metrics"
)

// Publisher is the event surface the sync manager talks to.
type Publisher interface {
	PublishCycleCompleted(ctx context.Context, event *CycleCompletedEvent) error
	PublishAchievement(ctx context.Context, event *AchievementUnlockedEvent) error
	Close() error
}

// NopPublisher drops all events. Used when event publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishCycleCompleted(context.Context, *CycleCompletedEvent) error { return nil }
func (NopPublisher) PublishAchievement(context.Context, *AchievementUnlockedEvent) error {
	return nil
}
func (NopPublisher) Close() error { return nil }

// WatermillPublisher publishes events over any Watermill transport.
type WatermillPublisher struct {
	publisher message.Publisher

	mu     sync.RWMutex
	closed bool
}

// NewChannelPublisher creates an in-process publisher backed by Watermill's
// Go channel pub/sub. The returned subscriber side serves in-process
// consumers and tests.
func NewChannelPublisher() (*WatermillPublisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, NewWatermillLogger())

	return &WatermillPublisher{publisher: pubSub}, pubSub
}

// NewNATSPublisher creates a publisher over NATS JetStream.
func NewNATSPublisher(cfg *config.NATSConfig) (*WatermillPublisher, error) {
	logger := NewWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	return &WatermillPublisher{publisher: pub}, nil
}

// NewPublisher builds the publisher selected by configuration. The returned
// subscriber is non-nil only for the channel backend.
func NewPublisher(cfg *config.EventsConfig) (Publisher, message.Subscriber, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil, nil
	}

	switch cfg.Backend {
	case "channel":
		pub, sub := NewChannelPublisher()
		return pub, sub, nil
	case "nats":
		pub, err := NewNATSPublisher(&cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		return pub, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

func (p *WatermillPublisher) publish(topic string, eventID string, payload interface{}) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	data, err := SerializeEvent(payload)
	if err != nil {
		metrics.RecordEventPublish(topic, err)
		return fmt.Errorf("serialize event for %s: %w", topic, err)
	}

	msg := message.NewMessage(eventID, data)
	if err := p.publisher.Publish(topic, msg); err != nil {
		metrics.RecordEventPublish(topic, err)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	metrics.RecordEventPublish(topic, nil)
	return nil
}

// PublishCycleCompleted publishes a cycle outcome event.
func (p *WatermillPublisher) PublishCycleCompleted(ctx context.Context, event *CycleCompletedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event.SchemaVersion = SchemaVersion
	if event.EventID == "" {
		event.EventID = NewEventID()
	}
	return p.publish(TopicCycleCompleted, event.EventID, event)
}

// PublishAchievement publishes one achievement milestone event.
func (p *WatermillPublisher) PublishAchievement(ctx context.Context, event *AchievementUnlockedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event.SchemaVersion = SchemaVersion
	if event.EventID == "" {
		event.EventID = NewEventID()
	}
	return p.publish(TopicAchievementUnlocked, event.EventID, event)
}

// Close shuts the underlying transport down. Idempotent.
func (p *WatermillPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.publisher.Close()
}
