// Package events publishes sync run outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/fitlog_sync/internal/sync"
)

const (
	EventRunCompleted     = "sync.completed"
	EventConflictResolved = "sync.conflict"

	defaultWriteTimeout = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// RunCompleted is the body of a sync.completed event
type RunCompleted struct {
	RunID      string         `json:"runId"`
	Owner      string         `json:"owner"`
	Success    bool           `json:"success"`
	Synced     map[string]int `json:"recordsSyncedByCollection"`
	Conflicts  int            `json:"conflicts"`
	Errors     []string       `json:"errors"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// ConflictResolved is the body of a sync.conflict event
type ConflictResolved struct {
	RunID string `json:"runId"`
	Owner string `json:"owner"`
	sync.Conflict
}

// Publisher emits one sync.completed message per run and one sync.conflict
// message per resolved conflict, keyed by owner so a user's events stay ordered.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewPublisher creates a publisher writing to topic on the given brokers
func NewPublisher(brokers []string, topic string) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	})
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, timeout: defaultWriteTimeout}
}

// RunCompleted implements sync.Observer. Delivery failures are logged and
// never affect the sync result.
func (p *Publisher) RunCompleted(ctx context.Context, owner string, res sync.Result) {
	msgs, err := messages(owner, res)
	if err != nil {
		logrus.WithError(err).WithField("run_id", res.RunID).Error("Failed to encode sync events")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"run_id":   res.RunID,
			"messages": len(msgs),
		}).Error("Failed to publish sync events")
		return
	}
	logrus.WithFields(logrus.Fields{"run_id": res.RunID, "messages": len(msgs)}).Debug("Published sync events")
}

// Close flushes and closes the underlying writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func messages(owner string, res sync.Result) ([]kafka.Message, error) {
	synced := make(map[string]int, len(res.Synced))
	for kind, n := range res.Synced {
		synced[string(kind)] = n
	}
	completed := RunCompleted{
		RunID:      res.RunID,
		Owner:      owner,
		Success:    res.Success,
		Synced:     synced,
		Conflicts:  len(res.Conflicts),
		Errors:     res.Errors,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}

	msg, err := message(EventRunCompleted, owner, res.FinishedAt, completed)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{msg}
	for _, c := range res.Conflicts {
		msg, err := message(EventConflictResolved, owner, res.FinishedAt, ConflictResolved{RunID: res.RunID, Owner: owner, Conflict: c})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func message(eventType, owner string, at time.Time, body any) (kafka.Message, error) {
	value, err := json.Marshal(body)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	return kafka.Message{
		Key:     []byte(owner),
		Value:   value,
		Time:    at.UTC(),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
	}, nil
}
