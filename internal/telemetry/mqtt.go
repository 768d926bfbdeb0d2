// Package telemetry mirrors bot state to an MQTT broker for bench
// debugging. Nothing on the bot depends on it being reachable.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"swarmbot.klederson.com/internal/config"
)

// ErrPublishBusy is returned when the previous message is still in flight.
// The new message is skipped rather than queued.
var ErrPublishBusy = errors.New("telemetry: previous publish still in flight")

// Publisher is the part of mqtt.Client the mirror uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Mirror publishes at most one retained state message per interval. It
// never waits on the broker: the outcome of a publish is collected on the
// next call.
type Mirror struct {
	client   Publisher
	topic    string
	interval time.Duration
	log      *slog.Logger

	last      time.Time
	pending   mqtt.Token
	published uint64
	failed    uint64
}

// Dial connects to the broker named in cfg.
func Dial(cfg config.Telemetry, logger *slog.Logger) (*Mirror, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, token.Error())
	}
	return New(client, cfg.Topic, cfg.Interval.Std(), logger), nil
}

// New wraps an already connected client.
func New(client Publisher, topic string, interval time.Duration, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		client:   client,
		topic:    topic,
		interval: interval,
		log:      logger.With("component", "telemetry", "topic", topic),
	}
}

// Publish hands v to the client as JSON when the interval has elapsed since
// the last attempt and reports whether it did. A failure of the previous
// publish is returned alongside the new one.
func (m *Mirror) Publish(now time.Time, v any) (bool, error) {
	if !m.last.IsZero() && now.Sub(m.last) < m.interval {
		return false, nil
	}
	m.last = now

	prev := m.reap()
	if errors.Is(prev, ErrPublishBusy) {
		m.failed++
		return false, prev
	}

	body, err := json.Marshal(v)
	if err != nil {
		m.failed++
		return false, errors.Join(prev, fmt.Errorf("telemetry: encode: %w", err))
	}
	m.pending = m.client.Publish(m.topic, 0, true, body)
	return true, prev
}

// reap collects the outcome of the in-flight publish without blocking.
func (m *Mirror) reap() error {
	if m.pending == nil {
		return nil
	}
	select {
	case <-m.pending.Done():
	default:
		return ErrPublishBusy
	}
	err := m.pending.Error()
	m.pending = nil
	if err != nil {
		m.failed++
		return fmt.Errorf("telemetry: publish: %w", err)
	}
	m.published++
	return nil
}

// Stats returns the number of acknowledged and failed messages. A message
// still in flight counts as neither.
func (m *Mirror) Stats() (published, failed uint64) { return m.published, m.failed }

// Close disconnects, giving in-flight messages a moment to drain.
func (m *Mirror) Close() {
	m.client.Disconnect(250)
	if err := m.reap(); err != nil {
		m.log.Debug("last publish not acknowledged", "error", err)
	}
	m.log.Debug("disconnected", "published", m.published, "failed", m.failed)
}
