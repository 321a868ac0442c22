// Package reconcile decides what the local store must do with records
// observed on the backend. Everything here is pure: no I/O and no state,
// so the functions are safe to call concurrently.
package reconcile

import "github.com/iudanet/offlinesync/internal/models"

// FilterPending убирает удалённые модели, для которых есть неподтверждённая
// локальная мутация. Порядок остальных моделей сохраняется.
func FilterPending(remote []models.RemoteModel, pending []*models.MutationEvent) []models.RemoteModel {
	if len(pending) == 0 {
		return remote
	}

	pendingIDs := make(map[string]struct{}, len(pending))
	for _, ev := range pending {
		pendingIDs[ev.ModelID] = struct{}{}
	}

	filtered := make([]models.RemoteModel, 0, len(remote))
	for _, rm := range remote {
		if _, ok := pendingIDs[rm.ID()]; ok {
			continue
		}
		filtered = append(filtered, rm)
	}
	return filtered
}

// Decide returns the disposition for a single remote model given the local
// metadata for the same id (nil when the record is unknown locally).
// The second result is false when no local action is needed.
//
// A remote model with the same version as the local copy is re-applied as an
// update unless it is deleted; a deleted remote model at the same version is
// already reflected locally and yields nothing.
func Decide(remote models.RemoteModel, local *models.MutationSyncMetadata) (models.Disposition, bool) {
	rm := remote.SyncMetadata

	if local == nil {
		if rm.Deleted {
			return models.Disposition{}, false
		}
		return models.Disposition{Model: remote, Action: models.ActionCreate}, true
	}

	switch {
	case rm.Version > local.Version && rm.Deleted:
		return models.Disposition{Model: remote, Action: models.ActionDelete}, true
	case rm.Version > local.Version:
		return models.Disposition{Model: remote, Action: models.ActionUpdate}, true
	case rm.Version == local.Version && !rm.Deleted:
		return models.Disposition{Model: remote, Action: models.ActionUpdate}, true
	default:
		// устаревшее наблюдение или повторное удаление той же версии
		return models.Disposition{}, false
	}
}

// DecideAll applies Decide to every remote model, looking up local metadata by
// record id. Dispositions come back in the order of remote. Callers are
// expected to have deduplicated remote by id.
func DecideAll(remote []models.RemoteModel, local []models.MutationSyncMetadata) []models.Disposition {
	byID := make(map[string]*models.MutationSyncMetadata, len(local))
	for i := range local {
		byID[local[i].ID] = &local[i]
	}

	dispositions := make([]models.Disposition, 0, len(remote))
	for _, rm := range remote {
		if d, ok := Decide(rm, byID[rm.ID()]); ok {
			dispositions = append(dispositions, d)
		}
	}
	return dispositions
}

// Reconcile runs the full per-cycle pipeline: pending filter, then decisions.
func Reconcile(
	remote []models.RemoteModel,
	pending []*models.MutationEvent,
	local []models.MutationSyncMetadata,
) []models.Disposition {
	return DecideAll(FilterPending(remote, pending), local)
}

// Dedupe keeps one remote model per id, preferring the highest version.
// The position of the first occurrence is kept.
func Dedupe(remote []models.RemoteModel) []models.RemoteModel {
	index := make(map[string]int, len(remote))
	out := make([]models.RemoteModel, 0, len(remote))

	for _, rm := range remote {
		i, seen := index[rm.ID()]
		if !seen {
			index[rm.ID()] = len(out)
			out = append(out, rm)
			continue
		}
		if rm.SyncMetadata.Version >= out[i].SyncMetadata.Version {
			out[i] = rm
		}
	}
	return out
}
