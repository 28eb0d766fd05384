// Package feed tracks which persistent connections subscribed to which
// streams and fans published messages out to them.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Stream names a subscription topic.
type Stream string

const (
	StreamLedger Stream = "ledger"
)

var knownStreams = map[Stream]bool{
	StreamLedger: true,
}

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrUnknownStream     = errors.New("unknown stream")
)

// ParseStream validates a stream name.
func ParseStream(name string) (Stream, error) {
	s := Stream(name)
	if !knownStreams[s] {
		return "", fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
	return s, nil
}

// Sender delivers a message to one connection. Send must not block; a
// closed connection drops the message.
type Sender interface {
	Send(msg []byte)
}

// Manager is the subscription registry. It refers to connections by id and
// never owns them; the transport calls Cleanup when a connection ends.
type Manager struct {
	mu      sync.RWMutex
	senders map[string]Sender
	subs    map[Stream]map[string]struct{}
	logger  zerolog.Logger
}

// NewManager creates an empty subscription manager.
func NewManager(logger zerolog.Logger) *Manager {
	subs := make(map[Stream]map[string]struct{}, len(knownStreams))
	for s := range knownStreams {
		subs[s] = make(map[string]struct{})
	}
	return &Manager{
		senders: make(map[string]Sender),
		subs:    subs,
		logger:  logger.With().Str("component", "Subscriptions").Logger(),
	}
}

// Register makes a connection known so it can subscribe.
func (m *Manager) Register(connID string, s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[connID] = s
}

// Subscribe adds connID to stream.
func (m *Manager) Subscribe(connID string, stream Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.senders[connID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	subs, ok := m.subs[stream]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	subs[connID] = struct{}{}
	subscribers.WithLabelValues(string(stream)).Set(float64(len(subs)))
	return nil
}

// Unsubscribe removes connID from stream.
func (m *Manager) Unsubscribe(connID string, stream Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if subs, ok := m.subs[stream]; ok {
		delete(subs, connID)
		subscribers.WithLabelValues(string(stream)).Set(float64(len(subs)))
	}
}

// Cleanup forgets connID and all its subscriptions.
func (m *Manager) Cleanup(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.senders, connID)
	for stream, subs := range m.subs {
		if _, ok := subs[connID]; ok {
			delete(subs, connID)
			subscribers.WithLabelValues(string(stream)).Set(float64(len(subs)))
		}
	}
}

// Count returns the number of subscribers of stream.
func (m *Manager) Count(stream Stream) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[stream])
}

// Report returns subscriber counts per stream.
func (m *Manager) Report() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := make(map[string]any, len(m.subs))
	for stream, subs := range m.subs {
		report[string(stream)] = len(subs)
	}
	return report
}

// Publish sends msg to every subscriber of stream.
func (m *Manager) Publish(stream Stream, msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error().Err(err).Str("stream", string(stream)).Msg("Failed to encode message")
		return
	}

	m.mu.RLock()
	targets := make([]Sender, 0, len(m.subs[stream]))
	for connID := range m.subs[stream] {
		if s, ok := m.senders[connID]; ok {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		s.Send(data)
	}
	published.WithLabelValues(string(stream)).Add(float64(len(targets)))
}
