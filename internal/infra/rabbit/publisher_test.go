package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"concept-master-quiz/internal/grading"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

func TestSubmittedMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := grading.SubmittedEvent{
		AttemptID:   "a-1",
		QuizID:      "quiz-1",
		UserID:      "u1",
		QuizType:    "MCQ",
		Score:       1,
		Total:       2,
		Percentage:  50,
		SubmittedAt: at,
	}

	msg, err := submittedMessage(event)
	require.NoError(t, err)
	require.Equal(t, "application/json", msg.ContentType)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)
	require.Equal(t, "a-1", msg.MessageId)
	require.Equal(t, SubmittedRoutingKey, msg.Type)
	require.True(t, msg.Timestamp.Equal(at))

	var decoded grading.SubmittedEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	require.Equal(t, "quiz-1", decoded.QuizID)
	require.Equal(t, 50.0, decoded.Percentage)
}

type fakeLink struct {
	closed    bool
	failNext  bool
	published []amqp.Publishing
}

func (l *fakeLink) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if l.failNext {
		l.failNext = false
		l.closed = true
		return amqp.ErrClosed
	}
	if l.closed {
		return amqp.ErrClosed
	}
	l.published = append(l.published, msg)
	return nil
}

func (l *fakeLink) IsClosed() bool { return l.closed }

func (l *fakeLink) Close() error {
	l.closed = true
	return nil
}

func TestPublisherReopensClosedLink(t *testing.T) {
	var links []*fakeLink
	p, err := newPublisher(func() (link, error) {
		l := &fakeLink{}
		links = append(links, l)
		return l, nil
	})
	require.NoError(t, err)
	ctx := context.Background()
	event := grading.SubmittedEvent{AttemptID: "a-1", QuizID: "quiz-1", UserID: "u1"}

	require.NoError(t, p.PublishSubmitted(ctx, event))
	require.Len(t, links, 1)

	// broker closed the channel between publishes
	links[0].closed = true
	require.NoError(t, p.PublishSubmitted(ctx, event))
	require.Len(t, links, 2)
	require.Len(t, links[1].published, 1)

	// channel dropped during the publish itself
	links[1].failNext = true
	require.NoError(t, p.PublishSubmitted(ctx, event))
	require.Len(t, links, 3)
	require.Len(t, links[2].published, 1)

	require.NoError(t, p.Close())
	require.True(t, links[2].closed)
}

func TestPublisherReportsFailedReopen(t *testing.T) {
	opens := 0
	first := &fakeLink{}
	p, err := newPublisher(func() (link, error) {
		opens++
		if opens == 1 {
			return first, nil
		}
		return nil, errors.New("connection refused")
	})
	require.NoError(t, err)

	first.closed = true
	err = p.PublishSubmitted(context.Background(), grading.SubmittedEvent{AttemptID: "a-2"})
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 2, opens)
}
