package sqlitesource

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/undertow/internal/jval"
	"github.com/roach88/undertow/internal/queryspec"
	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/store"
)

// snapshotReceiver is implemented by queries that take whole id lists.
type snapshotReceiver interface {
	SourceDidFetchQuery(ids []string, state string)
}

// idListReceiver is implemented by windowed queries that take id ranges.
type idListReceiver interface {
	SourceDidFetchIDList(r store.Range, ids []string, total int, state string)
	SourceDidFetchRecordsForRange(r store.Range)
}

// FetchRecord reads one record and delivers it to the attached store.
// Unknown ids are reported through SourceCouldNotFindRecords.
func (s *Source) FetchRecord(typ *schema.Type, id string, done func()) bool {
	if s.store == nil {
		return false
	}
	defer runDone(done)

	data, err := s.readRecord(typ, id)
	if err != nil {
		slog.Warn("fetch record failed", "type", typ.Name, "id", id, "error", err)
		return true
	}
	if data == nil {
		s.store.SourceCouldNotFindRecords(typ, []string{id})
		return true
	}
	s.store.SourceDidFetchRecords(typ, []jval.Object{data}, "", false)
	return true
}

// RefreshRecord re-reads an already-loaded record. Same as FetchRecord
// for a local database.
func (s *Source) RefreshRecord(typ *schema.Type, id string, done func()) bool {
	return s.FetchRecord(typ, id, done)
}

// FetchAllRecords reads every record of a type and delivers the set with
// the type's current state token.
func (s *Source) FetchAllRecords(typ *schema.Type, knownState string, done func()) bool {
	if s.store == nil {
		return false
	}
	defer runDone(done)

	seq, err := s.clock(typ.Name)
	if err != nil {
		slog.Warn("fetch all failed", "type", typ.Name, "error", err)
		return true
	}

	rows, err := s.db.Query(`
		SELECT data FROM records WHERE type = ? ORDER BY id ASC
	`, typ.Name)
	if err != nil {
		slog.Warn("fetch all failed", "type", typ.Name, "error", err)
		return true
	}
	defer rows.Close()

	var records []jval.Object
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			slog.Warn("fetch all scan failed", "type", typ.Name, "error", err)
			return true
		}
		data, err := unmarshalData(text)
		if err != nil {
			slog.Warn("fetch all decode failed", "type", typ.Name, "error", err)
			return true
		}
		records = append(records, data)
	}
	s.store.SourceDidFetchRecords(typ, records, stateToken(seq), true)
	return true
}

// FetchQuery evaluates a query's spec against the database and delivers
// results per the query's fetch request: the whole id list for plain
// queries, or the wanted id and record ranges for windowed ones.
func (s *Source) FetchQuery(q store.SourceQuery, done func()) bool {
	if s.store == nil {
		return false
	}
	defer runDone(done)

	req := q.SourceWillFetchQuery()
	spec := q.Spec()
	typ, ok := s.schemas.Get(spec.Type)
	if !ok {
		slog.Warn("query over unknown type", "query", q.QueryKey(), "type", spec.Type)
		return true
	}
	seq, err := s.clock(spec.Type)
	if err != nil {
		slog.Warn("query clock read failed", "query", q.QueryKey(), "error", err)
		return true
	}
	token := stateToken(seq)

	if len(req.IDRanges) == 0 && len(req.RecordRanges) == 0 {
		ids, err := s.queryIDs(spec, nil)
		if err != nil {
			slog.Warn("query failed", "query", q.QueryKey(), "error", err)
			return true
		}
		if recv, ok := q.(snapshotReceiver); ok {
			recv.SourceDidFetchQuery(ids, token)
		}
		return true
	}

	recv, ok := q.(idListReceiver)
	if !ok {
		slog.Warn("ranged fetch for query without range support", "query", q.QueryKey())
		return true
	}

	total, err := s.queryCount(spec)
	if err != nil {
		slog.Warn("query count failed", "query", q.QueryKey(), "error", err)
		return true
	}

	for _, r := range req.IDRanges {
		ids, err := s.queryIDs(spec, &r)
		if err != nil {
			slog.Warn("query range failed", "query", q.QueryKey(), "error", err)
			return true
		}
		recv.SourceDidFetchIDList(store.Range{Start: r.Start, Count: len(ids)}, ids, total, token)
	}

	for _, r := range req.RecordRanges {
		ids, records, err := s.queryRecords(spec, &r)
		if err != nil {
			slog.Warn("query record range failed", "query", q.QueryKey(), "error", err)
			return true
		}
		s.store.SourceDidFetchRecords(typ, records, "", false)
		recv.SourceDidFetchIDList(store.Range{Start: r.Start, Count: len(ids)}, ids, total, token)
		recv.SourceDidFetchRecordsForRange(store.Range{Start: r.Start, Count: len(ids)})
	}
	return true
}

func (s *Source) readRecord(typ *schema.Type, id string) (jval.Object, error) {
	var text string
	err := s.db.QueryRow(`
		SELECT data FROM records WHERE type = ? AND id = ?
	`, typ.Name, id).Scan(&text)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", typ.Name, id, err)
	}
	return unmarshalData(text)
}

// queryIDs runs the compiled query and returns ids, optionally sliced to
// a range via LIMIT/OFFSET. The compiled ORDER BY makes the slice stable.
func (s *Source) queryIDs(spec queryspec.Spec, r *store.Range) ([]string, error) {
	text, params, err := compileQuery(spec)
	if err != nil {
		return nil, err
	}
	if r != nil {
		text += " LIMIT ? OFFSET ?"
		params = append(params, r.Count, r.Start)
	}
	rows, err := s.db.Query(text, params...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Source) queryRecords(spec queryspec.Spec, r *store.Range) ([]string, []jval.Object, error) {
	text, params, err := compileQuery(spec)
	if err != nil {
		return nil, nil, err
	}
	if r != nil {
		text += " LIMIT ? OFFSET ?"
		params = append(params, r.Count, r.Start)
	}
	rows, err := s.db.Query(text, params...)
	if err != nil {
		return nil, nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var ids []string
	var records []jval.Object
	for rows.Next() {
		var id, dataText string
		if err := rows.Scan(&id, &dataText); err != nil {
			return nil, nil, fmt.Errorf("scan record: %w", err)
		}
		data, err := unmarshalData(dataText)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		records = append(records, data)
	}
	return ids, records, rows.Err()
}

// QueryRecords evaluates a query spec directly against the database and
// returns ids with their data, bypassing any attached store. Used by
// inspection tooling.
func (s *Source) QueryRecords(spec queryspec.Spec, r *store.Range) ([]string, []jval.Object, error) {
	return s.queryRecords(spec, r)
}

// ReadRecord returns one record's data, nil when absent.
func (s *Source) ReadRecord(typeName, id string) (jval.Object, error) {
	typ, ok := s.schemas.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typeName)
	}
	return s.readRecord(typ, id)
}

// CountRecords returns how many records of a type match a spec.
func (s *Source) CountRecords(spec queryspec.Spec) (int, error) {
	return s.queryCount(spec)
}

func (s *Source) queryCount(spec queryspec.Spec) (int, error) {
	text, params, err := compileQuery(spec)
	if err != nil {
		return 0, err
	}
	countSQL := "SELECT COUNT(*) FROM (" + text + ")"
	var total int
	if err := s.db.QueryRow(countSQL, params...).Scan(&total); err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	return total, nil
}

func runDone(done func()) {
	if done != nil {
		done()
	}
}
