package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/offlinesync/internal/client/sync/events"
)

// stopTimeout сколько ждём завершения движка после отмены
const stopTimeout = 10 * time.Second

// runSync запускает движок, дожидается начальной синхронизации и отправки
// всех локальных изменений, после чего останавливает его.
func (c *Cli) runSync(ctx context.Context, timeout time.Duration) (err error) {
	c.io.Println("=== Synchronization ===")
	c.io.Println()

	ch, unsubscribe := c.hub.Subscribe(256)
	defer unsubscribe()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.engine.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start sync: %w", err)
	}
	defer func() {
		stopErr := c.stop()
		if err == nil {
			err = stopErr
		}
	}()

	ready := false
	for {
		select {
		case <-runCtx.Done():
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("sync did not complete within %s", timeout)
			}
			return runCtx.Err()

		case ev, ok := <-ch:
			if !ok {
				return errors.New("event stream closed")
			}
			c.printEvent(ev)

			switch ev.Name {
			case events.Ready:
				ready = true
				pending, err := c.engine.Pending(runCtx)
				if err != nil {
					return fmt.Errorf("failed to count pending mutations: %w", err)
				}
				if pending == 0 {
					c.io.Println()
					c.io.Println("✓ Synchronization completed successfully!")
					return nil
				}
				c.io.Printf("Sending %d local change(s)...\n", pending)

			case events.OutboxStatus:
				if status, ok := ev.Data.(events.OutboxStatusData); ok && ready && status.Empty {
					c.io.Println()
					c.io.Println("✓ Synchronization completed successfully!")
					return nil
				}

			case events.SyncTerminated:
				return fmt.Errorf("synchronization failed: %w", ev.Err)
			}
		}
	}
}

// runRun держит движок запущенным до отмены ctx
func (c *Cli) runRun(ctx context.Context) error {
	ch, unsubscribe := c.hub.Subscribe(256)
	defer unsubscribe()

	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync: %w", err)
	}
	c.io.Println("Sync engine running, press Ctrl+C to stop.")

	for {
		select {
		case <-ctx.Done():
			c.io.Println()
			c.io.Println("Stopping...")
			return c.stop()
		case ev, ok := <-ch:
			if !ok {
				return c.stop()
			}
			c.printEvent(ev)
			if ev.Name == events.SyncTerminated {
				return c.stop()
			}
		}
	}
}

// runReset возвращает движок в исходное состояние; с purge удаляет
// также локальные записи и неотправленные изменения
func (c *Cli) runReset(ctx context.Context, purge bool) error {
	done := make(chan error, 1)
	c.engine.Reset(func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if !purge {
		c.io.Println("✓ Sync state reset")
		return nil
	}

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear local data: %w", err)
	}
	c.io.Println("✓ Sync state reset, local records and queued changes removed")
	return nil
}

func (c *Cli) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return c.engine.StopAndWait(ctx)
}

func (c *Cli) printEvent(ev events.Event) {
	switch ev.Name {
	case events.ModelSynced:
		if d, ok := ev.Data.(events.ModelSyncedData); ok {
			c.io.Printf("  %s: %d created, %d updated, %d deleted\n", d.Model, d.Created, d.Updated, d.Deleted)
		}
	case events.OutboxMutationProcessed:
		d, _ := ev.Data.(events.MutationData)
		if ev.Err != nil {
			c.io.Printf("  ✗ %s %s/%s rejected: %v\n", d.Type, d.ModelName, d.ModelID, ev.Err)
			return
		}
		c.io.Printf("  ✓ %s %s/%s sent\n", d.Type, d.ModelName, d.ModelID)
	case events.NetworkStatus:
		if d, ok := ev.Data.(events.NetworkStatusData); ok {
			if d.Online {
				c.io.Println("  server reachable")
			} else {
				c.io.Println("  server unreachable, working offline")
			}
		}
	case events.SyncStateChanged:
		if d, ok := ev.Data.(events.StateChange); ok {
			c.logger.Debug("Sync state", "from", d.From, "to", d.To)
		}
	}
}
