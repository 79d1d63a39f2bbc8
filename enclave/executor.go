package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloudx-io/escrowauction/store"
)

// Executor carries out committed transfer intents. Delivery is at-least-once, so
// implementations must dedupe on the intent ID to complete each intent exactly once.
type Executor interface {
	Execute(ctx context.Context, intent store.PendingIntent) error
}

// LogExecutor only logs intents. It stands in for a ledger submitter in development.
type LogExecutor struct{}

func (LogExecutor) Execute(_ context.Context, intent store.PendingIntent) error {
	log.Printf("INFO: Executing intent #%d %s: %s", intent.Sequence, intent.ID, intent.Intent)
	return nil
}

// Dispatcher drains the store outbox into an Executor in sequence order
type Dispatcher struct {
	store     store.Store
	executor  Executor
	interval  time.Duration
	batchSize int
}

func NewDispatcher(st store.Store, executor Executor, interval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		store:     st,
		executor:  executor,
		interval:  interval,
		batchSize: batchSize,
	}
}

// RunOnce delivers one batch. It stops at the first failing intent so later intents
// (a close-out in particular) never overtake earlier ones.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	pending, err := d.store.Pending(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}

	delivered := 0
	for _, p := range pending {
		if err := d.executor.Execute(ctx, p); err != nil {
			return delivered, fmt.Errorf("intent #%d %s failed: %w", p.Sequence, p.ID, err)
		}
		if err := d.store.MarkDelivered(ctx, p.ID); err != nil {
			return delivered, fmt.Errorf("failed to mark intent #%d delivered: %w", p.Sequence, err)
		}
		delivered++
	}
	return delivered, nil
}

// Run dispatches every interval until ctx is done
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delivered, err := d.RunOnce(ctx)
			if err != nil {
				log.Printf("WARNING: Dispatcher: %v (will retry)", err)
			}
			if delivered > 0 {
				log.Printf("INFO: Dispatcher delivered %d intents", delivered)
			}
		}
	}
}
