// Copyright 2025 Certen Protocol
//
// Dispatch queue (C7): FIFO topics for job IDs and control notifications
// with at-least-once delivery via a visibility timeout, the same shape
// SQS/visibility-timeout queues use. Message identity follows the
// teacher's pervasive use of github.com/google/uuid to correlate
// in-flight async work (pkg/batch/collector.go's transaction IDs).
package queue

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names a logical FIFO channel (spec §4.7).
type Topic string

const (
	TopicJob           Topic = "Q_JOB"
	TopicNotifications Topic = "Q_NOTIFICATIONS"
	TopicCmd           Topic = "Q_CMD"
)

// Message is a single dequeued item: its queue-assigned ID and payload.
type Message struct {
	ID      string
	Payload []byte
}

type inflight struct {
	msg       Message
	visibleAt time.Time
}

// topicState holds one topic's ready queue and in-flight set.
type topicState struct {
	ready    *list.List // of Message
	inflight map[string]*inflight
}

func newTopicState() *topicState {
	return &topicState{ready: list.New(), inflight: make(map[string]*inflight)}
}

// Queue implements the dispatch queue contract: Push/PopOne/DeleteMessage/
// IsEmpty over a fixed set of named topics, in-process. Ordering within a
// topic is FIFO; there is no ordering guarantee across topics (spec §4.7).
type Queue struct {
	mu     sync.Mutex
	topics map[Topic]*topicState
}

// NewQueue constructs an empty dispatch queue.
func NewQueue() *Queue {
	return &Queue{topics: make(map[Topic]*topicState)}
}

func (q *Queue) topic(t Topic) *topicState {
	ts, ok := q.topics[t]
	if !ok {
		ts = newTopicState()
		q.topics[t] = ts
	}
	return ts
}

// Push enqueues value on topic, appending a new message with a fresh ID.
func (q *Queue) Push(topic Topic, value []byte) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	ts := q.topic(topic)
	ts.ready.PushBack(Message{ID: id, Payload: value})
	return id
}

// PopOne returns the next visible message on topic, marking it invisible
// for visibility before any other popper can see it again (spec §4.7,
// §5's "visibility timeout equal to the worst expected prove time"). It
// also recovers any previously-popped message whose visibility has
// expired, implementing at-least-once redelivery.
func (q *Queue) PopOne(topic Topic, visibility time.Duration) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts := q.topic(topic)
	q.requeueExpiredLocked(ts)

	front := ts.ready.Front()
	if front == nil {
		return Message{}, false
	}
	msg := ts.ready.Remove(front).(Message)
	ts.inflight[msg.ID] = &inflight{msg: msg, visibleAt: time.Now().Add(visibility)}
	return msg, true
}

func (q *Queue) requeueExpiredLocked(ts *topicState) {
	now := time.Now()
	for id, in := range ts.inflight {
		if now.After(in.visibleAt) {
			ts.ready.PushBack(in.msg)
			delete(ts.inflight, id)
		}
	}
}

// DeleteMessage acknowledges a popped message, removing it from the
// in-flight set so it is never redelivered.
func (q *Queue) DeleteMessage(topic Topic, messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ts := q.topic(topic)
	delete(ts.inflight, messageID)
}

// Return makes a popped message immediately visible again (used on a
// recoverable prove failure, spec §4.8: "a prove error returns the job to
// the queue (no delete)").
func (q *Queue) Return(topic Topic, messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ts := q.topic(topic)
	if in, ok := ts.inflight[messageID]; ok {
		ts.ready.PushBack(in.msg)
		delete(ts.inflight, messageID)
	}
}

// IsEmpty reports whether topic currently has no ready or in-flight
// messages.
func (q *Queue) IsEmpty(topic Topic) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ts := q.topic(topic)
	q.requeueExpiredLocked(ts)
	return ts.ready.Len() == 0 && len(ts.inflight) == 0
}

// Flush drops every ready and in-flight message on topic, used by the
// orchestrator to abort an in-progress block (spec §5: "flushing input
// queues and starting a new planning round").
func (q *Queue) Flush(topic Topic) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.topics[topic] = newTopicState()
}
