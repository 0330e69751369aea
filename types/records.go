package types

import (
	"encoding/json"
	"time"

	"github.com/saiset-co/sai-offline/utils"
)

type CacheEntry struct {
	Data      json.RawMessage `json:"data"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is past its deadline. A zero ExpiresAt
// never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

type CacheStats struct {
	TotalKeys       int `json:"total_keys"`
	CacheKeys       int `json:"cache_keys"`
	ApproxSizeBytes int `json:"approx_size_bytes"`
}

type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusFailed   SyncStatus = "failed"
)

type SyncableRecord struct {
	ID           string          `json:"id"`
	EntityType   EntityType      `json:"entity_type"`
	Payload      json.RawMessage `json:"payload"`
	LastModified time.Time       `json:"last_modified"`
	SyncStatus   SyncStatus      `json:"sync_status"`
}

func NewSyncableRecord(entity Entity, status SyncStatus, at time.Time) (SyncableRecord, error) {
	payload, err := utils.Marshal(entity)
	if err != nil {
		return SyncableRecord{}, WrapError(err, "failed to encode record payload")
	}

	return SyncableRecord{
		ID:           entity.EntityID(),
		EntityType:   entity.EntityType(),
		Payload:      payload,
		LastModified: at,
		SyncStatus:   status,
	}, nil
}

func (r SyncableRecord) Entity() (Entity, error) {
	return DecodeEntity(r.EntityType, r.Payload)
}

type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

func (k ActionKind) Valid() bool {
	return k == ActionCreate || k == ActionUpdate || k == ActionDelete
}

// OfflineAction is a mutation recorded while it could not, or had not yet,
// reached the remote provider.
type OfflineAction struct {
	ID         string     `json:"id"`
	Kind       ActionKind `json:"kind"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Payload    Entity     `json:"-"`
	QueuedAt   time.Time  `json:"queued_at"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
}

func NewCreateAction(entity Entity) OfflineAction {
	return newPayloadAction(ActionCreate, entity)
}

func NewUpdateAction(entity Entity) OfflineAction {
	return newPayloadAction(ActionUpdate, entity)
}

func NewDeleteAction(entityType EntityType, id string) OfflineAction {
	return OfflineAction{Kind: ActionDelete, EntityType: entityType, EntityID: id}
}

func newPayloadAction(kind ActionKind, entity Entity) OfflineAction {
	action := OfflineAction{Kind: kind, Payload: entity}
	if entity != nil {
		action.EntityType = entity.EntityType()
		action.EntityID = entity.EntityID()
	}
	return action
}

func (a OfflineAction) Validate() error {
	if !a.Kind.Valid() {
		return Errorf(ErrInvalidAction, "kind: %q", a.Kind)
	}

	if !a.EntityType.Valid() {
		return Errorf(ErrUnknownEntityType, "type: %q", a.EntityType)
	}

	if a.EntityID == "" {
		return Errorf(ErrInvalidAction, "empty entity id for %s %s", a.Kind, a.EntityType)
	}

	switch a.Kind {
	case ActionCreate, ActionUpdate:
		if a.Payload == nil {
			return Errorf(ErrInvalidAction, "%s %s requires a payload", a.Kind, a.EntityType)
		}
		if a.Payload.EntityType() != a.EntityType {
			return Errorf(ErrInvalidAction, "payload type %s does not match %s", a.Payload.EntityType(), a.EntityType)
		}
	case ActionDelete:
		if a.Payload != nil {
			return Errorf(ErrInvalidAction, "delete %s carries a payload", a.EntityType)
		}
	}

	return nil
}

type offlineActionJSON struct {
	offlineActionAlias
	Payload json.RawMessage `json:"payload,omitempty"`
}

type offlineActionAlias OfflineAction

func (a OfflineAction) MarshalJSON() ([]byte, error) {
	wire := offlineActionJSON{offlineActionAlias: offlineActionAlias(a)}
	if a.Payload != nil {
		payload, err := utils.Marshal(a.Payload)
		if err != nil {
			return nil, WrapError(err, "failed to encode action payload")
		}
		wire.Payload = payload
	}
	return utils.Marshal(wire)
}

func (a *OfflineAction) UnmarshalJSON(data []byte) error {
	var wire offlineActionJSON
	if err := utils.Unmarshal(data, &wire); err != nil {
		return err
	}

	*a = OfflineAction(wire.offlineActionAlias)
	a.Payload = nil

	if len(wire.Payload) > 0 && string(wire.Payload) != "null" {
		entity, err := DecodeEntity(a.EntityType, wire.Payload)
		if err != nil {
			return err
		}
		a.Payload = entity
	}

	return nil
}

type DeadLetter struct {
	Action         OfflineAction `json:"action"`
	Error          string        `json:"error"`
	DeadLetteredAt time.Time     `json:"dead_lettered_at"`
}

type SyncEventType string

const (
	SyncEventStarted   SyncEventType = "started"
	SyncEventCompleted SyncEventType = "completed"
	SyncEventFailed    SyncEventType = "failed"
)

type SyncEvent struct {
	Type         SyncEventType `json:"type"`
	At           time.Time     `json:"at"`
	Processed    int           `json:"processed"`
	Succeeded    int           `json:"succeeded"`
	Retained     int           `json:"retained"`
	DeadLettered int           `json:"dead_lettered"`
	Err          error         `json:"-"`
}

type SyncListener func(SyncEvent)
