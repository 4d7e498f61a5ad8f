package scheduler

import (
	"sync"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// Reporter receives batch progress. Calls for one batch are serialized and
// arrive in transition order; OnComplete is called exactly once, after every
// job is terminal.
type Reporter interface {
	OnProgress(Snapshot)
	OnComplete(Snapshot)
}

// ReporterFunc adapts plain functions to Reporter. Nil fields are skipped.
type ReporterFunc struct {
	Progress func(Snapshot)
	Complete func(Snapshot)
}

func (f ReporterFunc) OnProgress(s Snapshot) {
	if f.Progress != nil {
		f.Progress(s)
	}
}

func (f ReporterFunc) OnComplete(s Snapshot) {
	if f.Complete != nil {
		f.Complete(s)
	}
}

type nopReporter struct{}

func (nopReporter) OnProgress(Snapshot) {}
func (nopReporter) OnComplete(Snapshot) {}

// Event is one progress notification as delivered by ChannelReporter. The
// final event of a batch has Done set and no job.
type Event struct {
	BatchID string           `json:"batch_id"`
	JobID   string           `json:"job_id,omitempty"`
	Index   int              `json:"index"`
	Status  domain.JobStatus `json:"status,omitempty"`
	Summary domain.Summary   `json:"summary"`
	Done    bool             `json:"done"`
}

// ChannelReporter exposes progress as a channel. The channel is closed after
// the completion event. A subscriber that stops reading must call Detach so
// workers never block on it.
type ChannelReporter struct {
	events   chan Event
	detached chan struct{}
	once     sync.Once
}

// NewChannelReporter creates a reporter with the given channel buffer.
func NewChannelReporter(buffer int) *ChannelReporter {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelReporter{events: make(chan Event, buffer), detached: make(chan struct{})}
}

// Events returns the receive side of the stream.
func (c *ChannelReporter) Events() <-chan Event {
	return c.events
}

// Detach drops every further event.
func (c *ChannelReporter) Detach() {
	c.once.Do(func() { close(c.detached) })
}

func (c *ChannelReporter) OnProgress(s Snapshot) {
	ev := Event{BatchID: s.BatchID, Index: s.Changed, Summary: s.Summary}
	if s.Changed >= 0 && s.Changed < len(s.Jobs) {
		ev.JobID = s.Jobs[s.Changed].ID
		ev.Status = s.Jobs[s.Changed].Status
	}
	c.send(ev)
}

func (c *ChannelReporter) OnComplete(s Snapshot) {
	c.send(Event{BatchID: s.BatchID, Index: -1, Summary: s.Summary, Done: true})
	close(c.events)
}

func (c *ChannelReporter) send(ev Event) {
	select {
	case <-c.detached:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.detached:
	}
}
