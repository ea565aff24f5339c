// Package bus implements the in-process event bus described in
// SPEC_FULL.md §4.1: hierarchical topic publish/subscribe multiplexed, at
// the transport layer, over a single framed connection per client or
// worker. The non-blocking delivery and subscriber-map shape are
// generalized from other_examples/800cca53_nugget-thane-ai-agent's
// internal events Bus (a single global channel of Event with a
// sync.RWMutex-guarded subscriber set and a recvToSend lookup for safe
// Unsubscribe) into per-topic subscriber sets.
package bus

import (
	"encoding/json"
	"sync"

	"github.com/madhatter5501/dispatchd/internal/metrics"
)

// Frame is the wire unit carried over the transport connection (§6.1):
// either an event delivery or an RPC request/response. Not every field is
// populated for every use — Method/Path/Query/Params are RPC-only, Topic
// is pub/sub-only.
type Frame struct {
	ID     string            `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Path   string            `json:"path,omitempty"`
	Topic  string            `json:"topic,omitempty"`
	Query  map[string]string `json:"query,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Data   json.RawMessage   `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
}

const defaultBufSize = 32

// subscriber is one subscribed channel; its capacity is the buffer size
// it was created with.
type subscriber struct {
	ch chan Frame
}

// Bus is a hierarchical topic publish/subscribe hub. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
	// recvToSend lets Unsubscribe take the read-only handle a caller was
	// given by Subscribe and find the real channel to remove and close,
	// mirroring the teacher reference's recvToSend map.
	recvToSend map[<-chan Frame]*subscriber
	subTopic   map[*subscriber]string
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subs:       map[string]map[*subscriber]struct{}{},
		recvToSend: map[<-chan Frame]*subscriber{},
		subTopic:   map[*subscriber]string{},
	}
}

// Subscribe registers a new subscriber on topic and returns a read-only
// channel of deliveries. bufSize <= 0 uses a default buffer.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Frame {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	s := &subscriber{ch: make(chan Frame, bufSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[*subscriber]struct{}{}
	}
	b.subs[topic][s] = struct{}{}
	b.recvToSend[s.ch] = s
	b.subTopic[s] = topic
	return s.ch
}

// Unsubscribe removes a subscriber previously returned by Subscribe and
// closes its channel. Safe to call more than once.
func (b *Bus) Unsubscribe(ch <-chan Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	topic := b.subTopic[s]
	delete(b.subs[topic], s)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	delete(b.recvToSend, ch)
	delete(b.subTopic, s)
	close(s.ch)
}

// Publish delivers f to every subscriber of topic. Delivery is
// non-blocking: if a subscriber's buffer is full, the bus drops the
// oldest pending delivery to that subscriber and records the drop, per
// §4.1.
func (b *Bus) Publish(topic string, f Frame) {
	if b == nil {
		return
	}
	f.Topic = topic

	b.mu.RLock()
	defer b.mu.RUnlock()

	metrics.BusPublishTotal.WithLabelValues(topic).Inc()
	for s := range b.subs[topic] {
		send(s.ch, f, topic)
	}
}

// send attempts a non-blocking delivery, dropping the oldest queued frame
// and retrying once if the buffer is full.
func send(ch chan Frame, f Frame, topic string) {
	select {
	case ch <- f:
		return
	default:
	}

	select {
	case <-ch:
		metrics.BusDropTotal.WithLabelValues(topic).Inc()
	default:
	}

	select {
	case ch <- f:
	default:
		// Raced with another publisher refilling the buffer; drop the
		// newest frame instead of blocking the publisher.
		metrics.BusDropTotal.WithLabelValues(topic).Inc()
	}
}

// SubscriberCount reports how many subscribers are registered on topic,
// for diagnostics and tests.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
