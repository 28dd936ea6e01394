package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/hpit/internal/events"
)

const (
	// streamBacklog is how many recent notifications a reconnecting stream
	// can replay through Last-Event-ID.
	streamBacklog = 1000

	streamKeepalive = 15 * time.Second

	// watcherBuffer bounds what a slow stream may fall behind before
	// notifications to it are dropped.
	watcherBuffer = 64
)

// notification is one broker event as written to a stream.
type notification struct {
	seq   uint64
	topic string
	data  []byte
}

// topicFilter selects notifications by NATS-style subject pattern. An empty
// filter selects everything.
type topicFilter []string

// parseTopics reads the comma separated topics query parameter.
func parseTopics(q string) topicFilter {
	var f topicFilter
	for _, p := range strings.Split(q, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f topicFilter) match(topic string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if subjectMatch(p, topic) {
			return true
		}
	}
	return false
}

// subjectMatch compares dot separated tokens. "*" matches exactly one
// token and a trailing ">" matches one or more.
func subjectMatch(pattern, topic string) bool {
	pt := strings.Split(pattern, ".")
	tt := strings.Split(topic, ".")
	for i, p := range pt {
		switch {
		case p == ">" && i == len(pt)-1:
			return len(tt) > i
		case i >= len(tt):
			return false
		case p != "*" && p != tt[i]:
			return false
		}
	}
	return len(pt) == len(tt)
}

type watcher struct {
	filter topicFilter
	ch     chan notification
}

// notifier is the events.Publisher behind /events/stream and the plugin
// wake-up streams. It numbers every notification and keeps a bounded
// backlog for replay.
type notifier struct {
	mu       sync.Mutex
	seq      uint64
	backlog  []notification
	head     int // oldest entry once backlog is full
	capacity int
	watchers map[*watcher]struct{}
}

func newNotifier(capacity int) *notifier {
	return &notifier{
		capacity: capacity,
		backlog:  make([]notification, 0, capacity),
		watchers: make(map[*watcher]struct{}),
	}
}

func (n *notifier) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s notification: %w", topic, err)
	}
	n.notify(topic, data)
	return nil
}

func (n *notifier) Close() error { return nil }

// notify records the notification and hands it to every matching watcher
// that has room for it.
func (n *notifier) notify(topic string, data []byte) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++
	note := notification{seq: n.seq, topic: topic, data: data}
	if len(n.backlog) < n.capacity {
		n.backlog = append(n.backlog, note)
	} else {
		n.backlog[n.head] = note
		n.head = (n.head + 1) % n.capacity
	}

	for w := range n.watchers {
		if !w.filter.match(topic) {
			continue
		}
		select {
		case w.ch <- note:
		default:
		}
	}
	return note.seq
}

// watch registers a watcher. With replay set, it also returns the backlog
// entries after seq that match filter; registration and the snapshot happen
// together so nothing falls between them.
func (n *notifier) watch(filter topicFilter, after uint64, replay bool) (*watcher, []notification) {
	w := &watcher{filter: filter, ch: make(chan notification, watcherBuffer)}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.watchers[w] = struct{}{}
	if !replay {
		return w, nil
	}
	var missed []notification
	for _, note := range n.ordered() {
		if note.seq > after && filter.match(note.topic) {
			missed = append(missed, note)
		}
	}
	return w, missed
}

func (n *notifier) unwatch(w *watcher) {
	n.mu.Lock()
	delete(n.watchers, w)
	n.mu.Unlock()
}

// ordered returns the backlog oldest first. Callers hold mu.
func (n *notifier) ordered() []notification {
	out := make([]notification, 0, len(n.backlog))
	out = append(out, n.backlog[n.head:]...)
	return append(out, n.backlog[:n.head]...)
}

// handleEventStream handles GET /events/stream?topics=a,b.
func (s *HubServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, parseTopics(r.URL.Query().Get("topics")))
}

// handlePluginStream handles GET /plugin/{name}/stream: one event per
// delivery queued for the plugin, so it can poll without waiting.
func (s *HubServer) handlePluginStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, topicFilter{events.DeliveryTopic(r.PathValue("name"))})
}

func (s *HubServer) serveStream(w http.ResponseWriter, r *http.Request, filter topicFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	after, replay := uint64(0), false
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if seq, err := strconv.ParseUint(v, 10, 64); err == nil {
			after, replay = seq, true
		}
	}
	watch, missed := s.notifier.watch(filter, after, replay)
	defer s.notifier.unwatch(watch)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	for _, note := range missed {
		writeNotification(w, note)
	}
	flusher.Flush()


	ticker := time.NewTicker(streamKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case note := <-watch.ch:
			writeNotification(w, note)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeNotification(w http.ResponseWriter, note notification) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", note.seq, note.topic, note.data)
}
