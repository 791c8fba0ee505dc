package worker

import (
	"context"
	"log"

	"gardenx/internal/broker"
	"gardenx/internal/notify"
)

// NotificationWorker consumes order events and dispatches the side
// channel notifications. The outbox lives on the events topic, so
// delivery failures here are observable and replayable without ever
// touching the checkout transaction.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier *notify.Notifier) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderPlaced(notifier.OrderPlaced)
	eventHandler.OnOrderStatusChanged(notifier.OrderStatusChanged)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}
