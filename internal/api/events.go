package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/seantiz/impactsweep/internal/model"
	"github.com/seantiz/impactsweep/internal/sweep"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event types streamed on /v1/events.
const (
	EventSweepStarted        = "sweep_started"
	EventCombinationStarted  = "combination_started"
	EventCombinationFinished = "combination_finished"
	EventSweepFinished       = "sweep_finished"
)

// Event is one progress notification.
type Event struct {
	Type        string             `json:"type"`
	SweepID     string             `json:"sweep_id,omitempty"`
	Job         string             `json:"job,omitempty"`
	Index       int                `json:"index"`
	Total       int                `json:"total"`
	Combination *model.Combination `json:"combination,omitempty"`
	Outcome     string             `json:"outcome,omitempty"`
	Residual    *float64           `json:"residual_velocity,omitempty"`
	Attempted   int                `json:"attempted,omitempty"`
	Succeeded   int                `json:"succeeded,omitempty"`
	Failed      int                `json:"failed,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Broker fans sweep progress out to event stream subscribers. It is safe for
// concurrent use.
type Broker struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	sweepID string
}

var _ sweep.Reporter = (*Broker)(nil)

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and an unsubscribe function. After
// Close the returned channel is already closed.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish sends an event to all subscribers, dropping it for those whose
// buffers are full.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if e.SweepID == "" {
		e.SweepID = b.sweepID
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close ends every subscription. Later publishes are discarded.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broker) SweepStarted(sweepID string, total int) {
	b.mu.Lock()
	b.sweepID = sweepID
	b.mu.Unlock()
	b.Publish(Event{Type: EventSweepStarted, Total: total})
}

func (b *Broker) CombinationStarted(index, total int, name string, c model.Combination) {
	b.Publish(Event{Type: EventCombinationStarted, Job: name, Index: index, Total: total, Combination: &c})
}

func (b *Broker) CombinationFinished(index, total int, rec *model.JobRecord, err error) {
	e := Event{
		Type:        EventCombinationFinished,
		Job:         rec.Name,
		Index:       index,
		Total:       total,
		Combination: &rec.Combination,
		Outcome:     rec.Outcome,
		Residual:    rec.Residual,
	}
	if err != nil {
		e.Error = err.Error()
	}
	b.Publish(e)
}

func (b *Broker) SweepFinished(sum sweep.Summary, err error) {
	e := Event{
		Type:      EventSweepFinished,
		SweepID:   sum.SweepID,
		Total:     sum.Total,
		Attempted: sum.Attempted,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
	}
	if err != nil {
		e.Error = err.Error()
	}
	b.Publish(e)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Streams outlive the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.events.Subscribe()
	defer unsub()
	eventStreams.Inc()
	defer eventStreams.Dec()

	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Debug("flush event stream", "error", err)
	}

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("encode event", "error", err)
				continue
			}
			if err := writeSSEEvent(w, e.Type, data); err != nil {
				return
			}
			_ = rc.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
