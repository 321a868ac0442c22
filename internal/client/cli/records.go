package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/iudanet/offlinesync/internal/client/storage"
	"github.com/iudanet/offlinesync/internal/models"
)

var newRecordID = uuid.NewString

// putOptions аргументы команды put
type putOptions struct {
	model   string
	id      string
	payload string
}

func (c *Cli) runPut(ctx context.Context, opts putOptions) error {
	if err := c.checkModel(opts.model); err != nil {
		return err
	}
	if !json.Valid([]byte(opts.payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}

	mutationType := models.MutationTypeCreate
	if opts.id != "" {
		_, err := c.store.GetRecord(ctx, opts.model, opts.id)
		switch {
		case err == nil:
			mutationType = models.MutationTypeUpdate
		case errors.Is(err, storage.ErrRecordNotFound):
		default:
			return fmt.Errorf("failed to read record: %w", err)
		}
	}

	ev := &models.MutationEvent{
		ModelID:      opts.id,
		ModelName:    opts.model,
		MutationType: mutationType,
		Payload:      []byte(opts.payload),
	}
	// новой записи нужен id до постановки в очередь
	if ev.ModelID == "" {
		ev.ModelID = newRecordID()
	}

	outcome, err := c.engine.Submit(ctx, ev)
	if err != nil {
		return err
	}

	c.io.Printf("✓ %s %s/%s queued\n", mutationType, opts.model, ev.ModelID)
	if outcome.Coalesced() {
		c.io.Println("  merged with an unsent change")
	}
	return nil
}

func (c *Cli) runDelete(ctx context.Context, model, id string) error {
	if err := c.checkModel(model); err != nil {
		return err
	}

	if _, err := c.store.GetRecord(ctx, model, id); err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("record %s/%s not found", model, id)
		}
		return fmt.Errorf("failed to read record: %w", err)
	}

	outcome, err := c.engine.Submit(ctx, &models.MutationEvent{
		ModelID:      id,
		ModelName:    model,
		MutationType: models.MutationTypeDelete,
	})
	if err != nil {
		return err
	}

	if outcome.Queued == nil {
		c.io.Printf("✓ %s/%s deleted locally, it was never sent\n", model, id)
		return nil
	}
	c.io.Printf("✓ delete %s/%s queued\n", model, id)
	return nil
}

func (c *Cli) runGet(ctx context.Context, model, id string) error {
	record, err := c.store.GetRecord(ctx, model, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return fmt.Errorf("record %s/%s not found", model, id)
		}
		return fmt.Errorf("failed to read record: %w", err)
	}

	out, err := json.MarshalIndent(record.Payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format record: %w", err)
	}
	c.io.Printf("%s\n", out)
	return nil
}

func (c *Cli) runList(ctx context.Context, model string) error {
	if err := c.checkModel(model); err != nil {
		return err
	}

	records, err := c.store.ListRecords(ctx, model)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", model, err)
	}

	if len(records) == 0 {
		c.io.Printf("No %s records found.\n", model)
		return nil
	}

	c.io.Printf("Found %d %s record(s):\n", len(records), model)
	c.io.Println()
	for i, r := range records {
		c.io.Printf("%d. %s\n", i+1, r.ID)
		c.io.Printf("   %s\n", compact(r.Payload))
	}
	return nil
}

func (c *Cli) checkModel(model string) error {
	if !slices.Contains(c.models, model) {
		return fmt.Errorf("model %q is not synced, configured models: %v", model, c.models)
	}
	return nil
}

// compact сжимает JSON для вывода в одну строку
func compact(payload json.RawMessage) string {
	const limit = 120

	var out []byte
	if b, err := json.Marshal(payload); err == nil {
		out = b
	} else {
		out = payload
	}
	if len(out) > limit {
		return string(out[:limit]) + "..."
	}
	return string(out)
}
