// Package ws fans out change events to realtime subscribers.
package ws

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const (
	EventSubmissionCreated = "submission.created"
	EventSubmissionUpdated = "submission.updated"
	EventSubmissionDeleted = "submission.deleted"
	EventTransectCreated   = "transect.created"
	EventTransectUpdated   = "transect.updated"
	EventTransectDeleted   = "transect.deleted"
	EventJobDeleted        = "job.deleted"

	maxBuffered = 512
)

type Event struct {
	Type    string `json:"type"`
	Ts      string `json:"ts"`
	Seq     int64  `json:"seq"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type Message struct {
	Seq  int64
	Type string
	Data []byte
}

type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	seq     int64
	buffer  []Message
	now     func() time.Time
}

// Client receives the events whose type starts with one of its topics.
// No topics means every event.
type Client struct {
	send   chan Message
	topics []string
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		now:     time.Now,
	}
}

func (c *Client) wants(eventType string) bool {
	if len(c.topics) == 0 {
		return true
	}
	for _, t := range c.topics {
		if eventType == t || strings.HasPrefix(eventType, t+".") {
			return true
		}
	}
	return false
}

// ParseTopics splits a comma separated topic list, dropping blanks.
func ParseTopics(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SubscribeFrom registers a client and returns the buffered events after
// afterSeq that match its topics.
func (h *Hub) SubscribeFrom(afterSeq int64, topics []string) (client *Client, backlog []Message) {
	c := &Client{send: make(chan Message, 128), topics: topics}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}

	if afterSeq > 0 && len(h.buffer) > 0 {
		out := make([]Message, 0, len(h.buffer))
		for _, msg := range h.buffer {
			if msg.Seq > afterSeq && c.wants(msg.Type) {
				out = append(out, msg)
			}
		}
		backlog = out
	}
	return c, backlog
}

func (c *Client) Messages() <-chan Message {
	return c.send
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish is nil-safe so services can run without a hub.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	evt.Seq = h.seq
	evt.Ts = h.now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	msg := Message{Seq: evt.Seq, Type: evt.Type, Data: data}
	h.buffer = append(h.buffer, msg)
	if len(h.buffer) > maxBuffered {
		h.buffer = h.buffer[len(h.buffer)-maxBuffered:]
	}

	for c := range h.clients {
		if !c.wants(evt.Type) {
			continue
		}
		// slow clients drop events and resume with afterSeq
		select {
		case c.send <- msg:
		default:
		}
	}
}
