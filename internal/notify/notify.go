package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"schoolbot/internal/engine"
	"schoolbot/internal/gateway"
	"schoolbot/internal/logging"
	"schoolbot/internal/metrics"
	"schoolbot/internal/queue"
	"schoolbot/internal/school"
)

// MessageType tags redelivery messages on the queue.
const MessageType = "notification"

// Sender pushes a message to a chat.
type Sender interface {
	Send(ctx context.Context, msg gateway.Message) error
}

// Delivery is a queued notification awaiting another attempt.
type Delivery struct {
	NotificationID string `json:"notification_id"`
	UserID         int64  `json:"user_id"`
	Category       string `json:"category"`
	Text           string `json:"text"`
	Attempt        int    `json:"attempt"`
	From           int64  `json:"from"`
}

// Notifier records a notification for the recipient and pushes it through the
// gateway. A failed push is queued for the worker and reported to the caller.
type Notifier struct {
	store  school.Notifications
	sender Sender
	queue  queue.Queue
	log    logging.Logger
}

var _ engine.Notifier = (*Notifier)(nil)

// New creates a notifier. q may be nil to disable redelivery.
func New(store school.Notifications, sender Sender, q queue.Queue, log logging.Logger) *Notifier {
	if log == nil {
		log = logging.Nop()
	}
	return &Notifier{store: store, sender: sender, queue: q, log: log}
}

// Notify stores and sends one Notify action.
func (n *Notifier) Notify(ctx context.Context, from int64, action engine.Outbound) error {
	category := action.Category
	if category == "" {
		category = school.NotifyGeneral
	}
	note, err := n.store.AddNotification(ctx, school.Notification{
		UserID:   action.UserID,
		Category: category,
		Text:     action.Text,
	})
	if err != nil {
		metrics.Deliveries.WithLabelValues("store_failed").Inc()
		return fmt.Errorf("notify: store: %w", err)
	}

	err = n.sender.Send(ctx, gateway.Message{ChatID: action.UserID, Text: action.Text, Category: category})
	if err == nil {
		metrics.Deliveries.WithLabelValues("delivered").Inc()
		return nil
	}
	metrics.Deliveries.WithLabelValues("failed").Inc()
	if n.queue != nil && !errors.Is(err, gateway.ErrBlocked) {
		d := Delivery{NotificationID: note.ID, UserID: action.UserID, Category: category, Text: action.Text, Attempt: 1, From: from}
		if qerr := n.enqueue(ctx, d); qerr != nil {
			n.log.Errorf("notify: queue redelivery of %s: %v", note.ID, qerr)
		} else {
			metrics.Deliveries.WithLabelValues("queued").Inc()
		}
	}
	return fmt.Errorf("notify: send to %d: %w", action.UserID, err)
}

func (n *Notifier) enqueue(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return n.queue.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Redeliverer retries queued notifications for the worker.
type Redeliverer struct {
	sender      Sender
	queue       queue.Queue
	maxAttempts int
	backoff     time.Duration
	log         logging.Logger
}

// NewRedeliverer creates a redeliverer giving up after maxAttempts sends.
func NewRedeliverer(sender Sender, q queue.Queue, maxAttempts int, backoff time.Duration, log logging.Logger) *Redeliverer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Redeliverer{sender: sender, queue: q, maxAttempts: maxAttempts, backoff: backoff, log: log}
}

// Process handles one queue message. Messages of other types are ignored.
func (r *Redeliverer) Process(ctx context.Context, msg queue.Message) error {
	if msg.Type != MessageType {
		return nil
	}
	var d Delivery
	if err := json.Unmarshal(msg.Body, &d); err != nil {
		r.log.Errorf("redeliver: malformed message dropped: %v", err)
		metrics.Deliveries.WithLabelValues("dropped").Inc()
		return nil
	}

	err := r.sender.Send(ctx, gateway.Message{ChatID: d.UserID, Text: d.Text, Category: d.Category})
	if err == nil {
		r.log.Infof("redeliver: notification %s delivered on attempt %d", d.NotificationID, d.Attempt+1)
		metrics.Deliveries.WithLabelValues("redelivered").Inc()
		return nil
	}
	d.Attempt++
	if errors.Is(err, gateway.ErrBlocked) || d.Attempt >= r.maxAttempts {
		r.log.Warnf("redeliver: giving up on notification %s for user %d after %d attempts: %v",
			d.NotificationID, d.UserID, d.Attempt, err)
		metrics.Deliveries.WithLabelValues("dropped").Inc()
		return nil
	}

	if r.backoff > 0 {
		select {
		case <-time.After(r.backoff * time.Duration(d.Attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	body, _ := json.Marshal(d)
	if err := r.queue.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		return fmt.Errorf("redeliver: requeue %s: %w", d.NotificationID, err)
	}
	metrics.Deliveries.WithLabelValues("queued").Inc()
	return nil
}
