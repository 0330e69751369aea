package syncer

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
	"github.com/saiset-co/sai-offline/utils"
)

const SnapshotPrefix = "offline_data_"

func SnapshotKey(entityType types.EntityType) string {
	return SnapshotPrefix + string(entityType)
}

// GetRecords returns the durable snapshot of entityType keyed by id.
func (e *Engine) GetRecords(ctx context.Context, entityType types.EntityType) (map[string]types.SyncableRecord, error) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	return e.loadRecords(ctx, entityType)
}

// GetDataByType returns the snapshot entities of entityType ordered by id.
func (e *Engine) GetDataByType(ctx context.Context, entityType types.EntityType) ([]types.Entity, error) {
	records, err := e.GetRecords(ctx, entityType)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entities := make([]types.Entity, 0, len(ids))
	for _, id := range ids {
		entity, err := records[id].Entity()
		if err != nil {
			e.logger.Warn("Skipping undecodable snapshot record",
				zap.String("entity_type", entityType.String()),
				zap.String("id", id),
				zap.Error(err))
			continue
		}
		entities = append(entities, entity)
	}

	return entities, nil
}

func (e *Engine) GetData(ctx context.Context, entityType types.EntityType, id string) (types.Entity, bool, error) {
	records, err := e.GetRecords(ctx, entityType)
	if err != nil {
		return nil, false, err
	}

	record, ok := records[id]
	if !ok {
		return nil, false, nil
	}

	entity, err := record.Entity()
	if err != nil {
		return nil, false, err
	}
	return entity, true, nil
}

// StoreData writes a fresh remote listing into the snapshot. Records with
// local changes still pending keep their local version; synced records
// missing from the listing are dropped.
func (e *Engine) StoreData(ctx context.Context, entityType types.EntityType, entities []types.Entity) error {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	current, err := e.loadRecords(ctx, entityType)
	if err != nil {
		e.logger.Warn("Replacing unreadable snapshot", zap.String("entity_type", entityType.String()), zap.Error(err))
		current = nil
	}

	now := e.now()
	next := make(map[string]types.SyncableRecord, len(entities))

	for id, record := range current {
		if record.SyncStatus != types.SyncStatusSynced {
			next[id] = record
		}
	}

	for _, entity := range entities {
		if entity == nil || entity.EntityType() != entityType {
			continue
		}
		if existing, ok := next[entity.EntityID()]; ok && existing.SyncStatus == types.SyncStatusPending {
			continue
		}
		record, err := types.NewSyncableRecord(entity, types.SyncStatusSynced, now)
		if err != nil {
			return err
		}
		next[record.ID] = record
	}

	return e.saveRecords(ctx, entityType, next)
}

// UpsertData stores a single remote entity as synced unless a local change
// for it is still pending.
func (e *Engine) UpsertData(ctx context.Context, entity types.Entity) error {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	records, err := e.loadRecords(ctx, entity.EntityType())
	if err != nil {
		return err
	}

	if existing, ok := records[entity.EntityID()]; ok && existing.SyncStatus == types.SyncStatusPending {
		return nil
	}

	record, err := types.NewSyncableRecord(entity, types.SyncStatusSynced, e.now())
	if err != nil {
		return err
	}
	records[record.ID] = record

	return e.saveRecords(ctx, entity.EntityType(), records)
}

func (e *Engine) RemoveData(ctx context.Context, entityType types.EntityType, id string) error {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	return e.deleteRecordLocked(ctx, entityType, id)
}

// ClearOfflineData removes every snapshot together with the pending queue
// and the dead-letter list.
func (e *Engine) ClearOfflineData(ctx context.Context) error {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	keys, err := e.kv.ListKeys(ctx)
	if err != nil {
		return types.WrapError(err, "failed to list offline keys")
	}

	for _, key := range keys {
		if !strings.HasPrefix(key, SnapshotPrefix) {
			continue
		}
		if err := e.kv.Remove(ctx, key); err != nil {
			return types.WrapError(err, "failed to remove "+key)
		}
	}

	if err := e.queue.Clear(ctx); err != nil {
		return types.WrapError(err, "failed to clear action queue")
	}
	if err := e.queue.ClearDeadLetters(ctx); err != nil {
		return types.WrapError(err, "failed to clear dead letters")
	}

	e.queueLength(0)
	e.logger.Info("Offline data cleared")
	return nil
}

func (e *Engine) putRecord(ctx context.Context, entity types.Entity, status types.SyncStatus) error {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	records, err := e.loadRecords(ctx, entity.EntityType())
	if err != nil {
		records = nil
	}
	if records == nil {
		records = make(map[string]types.SyncableRecord)
	}

	record, err := types.NewSyncableRecord(entity, status, e.now())
	if err != nil {
		return err
	}
	records[record.ID] = record

	return e.saveRecords(ctx, entity.EntityType(), records)
}

func (e *Engine) markRecord(ctx context.Context, entityType types.EntityType, id string, status types.SyncStatus) error {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()

	records, err := e.loadRecords(ctx, entityType)
	if err != nil {
		return err
	}

	record, ok := records[id]
	if !ok {
		return nil
	}
	record.SyncStatus = status
	record.LastModified = e.now()
	records[id] = record

	return e.saveRecords(ctx, entityType, records)
}

func (e *Engine) deleteRecordLocked(ctx context.Context, entityType types.EntityType, id string) error {
	records, err := e.loadRecords(ctx, entityType)
	if err != nil {
		return err
	}
	if _, ok := records[id]; !ok {
		return nil
	}
	delete(records, id)

	return e.saveRecords(ctx, entityType, records)
}

func (e *Engine) loadRecords(ctx context.Context, entityType types.EntityType) (map[string]types.SyncableRecord, error) {
	if !entityType.Valid() {
		return nil, types.Errorf(types.ErrUnknownEntityType, "type: %s", entityType)
	}

	raw, ok, err := e.kv.Get(ctx, SnapshotKey(entityType))
	if err != nil {
		return nil, types.WrapError(err, "failed to read snapshot")
	}

	records := make(map[string]types.SyncableRecord)
	if !ok || len(raw) == 0 {
		return records, nil
	}

	if err := utils.Unmarshal(raw, &records); err != nil {
		return nil, types.Errorf(types.ErrStorage, "snapshot %s corrupted: %v", entityType, err)
	}

	return records, nil
}

func (e *Engine) saveRecords(ctx context.Context, entityType types.EntityType, records map[string]types.SyncableRecord) error {
	data, err := utils.Marshal(records)
	if err != nil {
		return types.WrapError(err, "failed to encode snapshot")
	}

	if err := e.kv.Set(ctx, SnapshotKey(entityType), data); err != nil {
		return types.WrapError(err, "failed to store snapshot")
	}

	return nil
}
