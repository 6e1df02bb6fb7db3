package sqlitesource

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/store"
)

// CommitChanges applies one batch per record type, each in its own
// transaction, and acknowledges every leg back to the attached store.
// A failed transaction is reported as transient for all legs of that
// batch: nothing in it landed, so everything may retry.
func (s *Source) CommitChanges(batches []*store.TypeChanges, onAllDone func()) bool {
	if s.store == nil {
		return false
	}
	for _, batch := range batches {
		s.commitBatch(batch)
	}
	if onAllDone != nil {
		onAllDone()
	}
	return true
}

func (s *Source) commitBatch(batch *store.TypeChanges) {
	typ := batch.Type

	keyToID, err := s.applyBatch(batch)
	if err != nil {
		slog.Warn("commit batch failed",
			"type", typ.Name,
			"error", err,
		)
		s.store.SourceDidNotCommitCreate(typ, batch.Create.StoreKeys, false)
		s.store.SourceDidNotCommitUpdate(typ, batch.Update.StoreKeys, false)
		s.store.SourceDidNotCommitDestroy(typ, batch.Destroy.StoreKeys, false)
		return
	}

	if len(keyToID) > 0 {
		s.store.SourceDidCommitCreate(typ, keyToID)
	}
	if len(batch.Update.StoreKeys) > 0 {
		s.store.SourceDidCommitUpdate(typ, batch.Update.StoreKeys)
	}
	if len(batch.Destroy.StoreKeys) > 0 {
		s.store.SourceDidCommitDestroy(typ, batch.Destroy.StoreKeys)
	}
}

// applyBatch writes a whole batch transactionally and returns the
// server-assigned ids for its creates.
func (s *Source) applyBatch(batch *store.TypeChanges) (map[string]string, error) {
	typ := batch.Type

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin commit for %s: %w", typ.Name, err)
	}
	defer tx.Rollback()

	seq, err := bumpClock(tx, typ.Name)
	if err != nil {
		return nil, err
	}

	keyToID := make(map[string]string, len(batch.Create.StoreKeys))
	for i, storeKey := range batch.Create.StoreKeys {
		id := uuid.Must(uuid.NewV7()).String()
		data := batch.Create.Records[i].Clone()
		data[typ.PrimaryKey] = jval.String(id)

		text, err := marshalData(data)
		if err != nil {
			return nil, fmt.Errorf("create %s/%s: %w", typ.Name, storeKey, err)
		}
		_, err = tx.Exec(`
			INSERT INTO records (type, id, data, seq)
			VALUES (?, ?, ?, ?)
		`, typ.Name, id, text, seq)
		if err != nil {
			return nil, fmt.Errorf("create %s/%s: %w", typ.Name, storeKey, err)
		}
		keyToID[storeKey] = id
	}

	for i, storeKey := range batch.Update.StoreKeys {
		record := batch.Update.Records[i]
		id := typ.ID(record)
		if id == "" {
			return nil, fmt.Errorf("update %s/%s: record has no %s", typ.Name, storeKey, typ.PrimaryKey)
		}
		text, err := marshalData(record)
		if err != nil {
			return nil, fmt.Errorf("update %s/%s: %w", typ.Name, id, err)
		}
		_, err = tx.Exec(`
			INSERT INTO records (type, id, data, seq)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(type, id) DO UPDATE SET data = excluded.data, seq = excluded.seq
		`, typ.Name, id, text, seq)
		if err != nil {
			return nil, fmt.Errorf("update %s/%s: %w", typ.Name, id, err)
		}
	}

	for _, id := range batch.Destroy.IDs {
		if _, err := tx.Exec(`
			DELETE FROM records WHERE type = ? AND id = ?
		`, typ.Name, id); err != nil {
			return nil, fmt.Errorf("destroy %s/%s: %w", typ.Name, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch for %s: %w", typ.Name, err)
	}

	slog.Debug("batch committed",
		"type", typ.Name,
		"seq", seq,
		"creates", len(batch.Create.StoreKeys),
		"updates", len(batch.Update.StoreKeys),
		"destroys", len(batch.Destroy.IDs),
	)
	return keyToID, nil
}

// stateToken renders a clock sequence as the opaque token clients carry.
func stateToken(seq int64) string {
	return strconv.FormatInt(seq, 10)
}
