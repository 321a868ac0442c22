package outgoing

import "github.com/iudanet/offlinesync/internal/models"

// Coalesce merges a newer local event into the unsent one queued for the
// same record. A nil result drops both.
//
//	create + create/update -> create with the new payload
//	create + delete        -> nothing (the backend never saw the record)
//	update + create/update -> update with the new payload
//	update + delete        -> delete
//	delete + create/update -> update with the new payload
//	delete + delete        -> delete
func Coalesce(existing, incoming *models.MutationEvent) *models.MutationEvent {
	if existing == nil {
		return incoming
	}

	switch existing.MutationType {
	case models.MutationTypeCreate:
		if incoming.MutationType == models.MutationTypeDelete {
			return nil
		}
		return withPayload(existing, incoming, models.MutationTypeCreate)

	case models.MutationTypeUpdate:
		if incoming.MutationType == models.MutationTypeDelete {
			return withPayload(existing, incoming, models.MutationTypeDelete)
		}
		return withPayload(existing, incoming, models.MutationTypeUpdate)

	case models.MutationTypeDelete:
		if incoming.MutationType == models.MutationTypeDelete {
			return existing
		}
		// удаление ещё не отправлено, запись на сервере существует
		replaced := incoming.Clone()
		replaced.MutationType = models.MutationTypeUpdate
		return replaced

	default:
		return incoming
	}
}

// withPayload keeps the queue position of existing and takes the rest from incoming.
func withPayload(existing, incoming *models.MutationEvent, typ models.MutationType) *models.MutationEvent {
	merged := existing.Clone()
	merged.MutationType = typ
	merged.Payload = append([]byte(nil), incoming.Payload...)
	merged.Version = incoming.Version
	return merged
}
