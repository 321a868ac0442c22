package models

// Action is what the local store must do with a remote observation.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Disposition is the verdict of one reconciliation for one remote record.
// It is produced and consumed within a single reconciliation pass and never persisted.
type Disposition struct {
	Model  RemoteModel
	Action Action
}
