// Package dbfile ties the framed log, the schema codec and the row/datum
// engine together into the open/commit/compact lifecycle a database file
// implements, including the online compaction gate and its backoff state
// machine.
//
// Grounded on storage/manager/wal_manager.go's lifecycle wrapper around a
// log, and directly on ovsdb_file_create/ovsdb_file_commit/ovsdb_file_compact
// for the compaction gate and timing constants and the compaction comment's
// exact wording.
package dbfile

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/leengari/joydb/internal/datum"
	"github.com/leengari/joydb/internal/dberrors"
	"github.com/leengari/joydb/internal/dbschema"
	"github.com/leengari/joydb/internal/jlog"
	"github.com/leengari/joydb/internal/txn"
)

const (
	compactMinMsec   = 600_000
	compactRetryMsec = 60_000
	compactMinTxns   = 100
	compactMinBytes  = 10 << 20
	compactMinRatio  = 4
)

func nowMs() int64 { return time.Now().UnixMilli() }

// File wraps a jlog.Log with the schema-load/replay lifecycle, the
// compaction gate and its counters. It does not own the in-memory image it
// loaded -- the caller of Open does.
type File struct {
	path       string
	log        *jlog.Log
	db         *datum.Database
	readOnly   bool
	converting bool

	openedAtMs        int64
	nTransactions     int64
	snapshotSizeBytes int64
	lastCompactMs     int64
	nextCompactMs     int64
	state             CompactionState
}

// Create makes a brand-new database file at path containing only the
// schema record. Fails if path already exists.
func Create(path string, schema *dbschema.Schema) error {
	log, err := jlog.Open(path, []string{jlog.StandaloneMagic}, jlog.CreateExclusive, jlog.LockForce)
	if err != nil {
		return err
	}

	raw, err := schema.ToJSON()
	if err != nil {
		log.Close()
		os.Remove(path)
		return dberrors.Wrap(dberrors.KindSyntax, err, "%s: failed to encode schema", path)
	}
	if err := log.Append(jlog.Record(raw)); err != nil {
		log.Close()
		os.Remove(path)
		return err
	}
	if err := log.Commit(); err != nil {
		log.Close()
		os.Remove(path)
		return err
	}
	return log.Close()
}

// Open loads path's schema record and replays every transaction record that
// follows into a fresh in-memory image. When altSchema is non-nil the
// stored schema is discarded in favor of altSchema (cloned) and every
// subsequent record is replayed in converting mode. A record that fails to
// parse or apply stops replay (tail tolerance); the returned File and image
// reflect whatever was successfully replayed before that point.
func Open(path string, altSchema *dbschema.Schema, readOnly bool, locking jlog.Locking) (*File, *datum.Database, error) {
	mode := jlog.ReadWrite
	if readOnly {
		mode = jlog.ReadOnly
	}
	log, err := jlog.Open(path, []string{jlog.StandaloneMagic}, mode, locking)
	if err != nil {
		return nil, nil, err
	}

	schemaRec, err := log.Read()
	if err != nil {
		log.Close()
		if err == io.EOF {
			return nil, nil, dberrors.New(dberrors.KindSyntax, "%s: empty file, missing schema record", path)
		}
		return nil, nil, err
	}

	var schema *dbschema.Schema
	converting := altSchema != nil
	if converting {
		schema = altSchema.Clone()
	} else {
		schema, err = dbschema.FromJSON(schemaRec)
		if err != nil {
			log.Close()
			return nil, nil, dberrors.Wrap(dberrors.KindSyntax, err, "%s: failed to parse schema record", path)
		}
	}

	db := datum.NewDatabase(schema)
	f := &File{
		path:       path,
		log:        log,
		db:         db,
		readOnly:   readOnly,
		converting: converting,
		openedAtMs: nowMs(),
		state:      Idle,
	}

	replayed := 0
	for {
		rec, rerr := log.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			slog.Warn("dbfile: stopping replay, record failed to read", "path", path, "error", rerr)
			break
		}
		t, terr := txn.RecordToTxn(db, rec, converting)
		if terr != nil {
			slog.Warn("dbfile: stopping replay, record failed to apply", "path", path, "error", terr)
			log.Unread(rec)
			break
		}
		t.Commit()
		replayed++
		if replayed == 1 {
			off, _ := log.Offset()
			f.snapshotSizeBytes = off
		}
	}
	f.nTransactions = int64(replayed)

	return f, db, nil
}

// Path returns the path File was opened with.
func (f *File) Path() string { return f.path }

// State returns the compaction state machine's current state.
func (f *File) State() CompactionState { return f.state }

// NTransactions returns the number of transaction records written (or
// replayed) since the last snapshot.
func (f *File) NTransactions() int64 { return f.nTransactions }

// Close releases the underlying log's lock and descriptor.
func (f *File) Close() error { return f.log.Close() }

// Commit serializes t's changes into the log as one record, skipping
// entirely when t mutated nothing (the idempotent no-op commit property),
// optionally issues a durability barrier, then evaluates the compaction
// gate. A failed compaction does not invalidate the commit that triggered
// it -- it only sets the backoff window and is logged.
func (f *File) Commit(t *datum.Txn, durable bool) error {
	if f.readOnly {
		return dberrors.New(dberrors.KindState, "%s: commit on read-only file", f.path)
	}

	rec, ok := txn.TxnToRecord(t, t.Comment())
	if !ok {
		return nil
	}
	if err := f.log.Append(jlog.Record(rec)); err != nil {
		return err
	}
	if durable {
		if err := f.log.Commit(); err != nil {
			return err
		}
	}
	f.nTransactions++

	if f.gateHolds() {
		if err := f.Compact(); err != nil {
			f.state = Backoff
			f.nextCompactMs = nowMs() + compactRetryMsec
			slog.Warn("dbfile: compaction failed, backing off", "path", f.path, "error", err)
		}
	}
	return nil
}

// gateHolds evaluates the compaction gate verbatim: age since the last
// attempt, transaction count, absolute log size, and the size/snapshot
// ratio must all hold before a compaction is attempted.
func (f *File) gateHolds() bool {
	if f.readOnly {
		return false
	}
	now := nowMs()
	if f.state == Backoff {
		if now < f.nextCompactMs {
			return false
		}
		f.state = Idle
	}
	if now < f.nextCompactMs {
		return false
	}
	if f.nTransactions < compactMinTxns {
		return false
	}
	size, err := f.log.Offset()
	if err != nil || size < compactMinBytes {
		return false
	}
	if size/compactMinRatio < f.snapshotSizeBytes {
		return false
	}
	return true
}

// Compact folds the current image into a fresh snapshot log and atomically
// replaces the file. Read-only files never compact.
func (f *File) Compact() error {
	if f.readOnly {
		return dberrors.New(dberrors.KindState, "%s: compact on read-only file", f.path)
	}

	f.state = Compacting
	defer func() {
		if f.state == Compacting {
			f.state = Idle
		}
	}()

	ageSeconds := float64(nowMs()-f.openedAtMs) / 1000.0
	size, _ := f.log.Offset()
	comment := fmt.Sprintf("compacting database online (%.3f seconds old, %d transactions, %d bytes)",
		ageSeconds, f.nTransactions, size)

	newLog, err := f.log.ReplaceStart()
	if err != nil {
		return err
	}
	snapshotEnd, err := writeSnapshot(newLog, comment, f.db)
	if err != nil {
		newLog.Close()
		os.Remove(newLog.Path())
		return err
	}

	if err := f.log.ReplaceCommit(newLog); err != nil {
		return dberrors.Wrap(dberrors.KindState, err, "%s: replace_commit failed, log left in an unknown state", f.path)
	}

	f.nTransactions = 1
	f.lastCompactMs = nowMs()
	f.nextCompactMs = f.lastCompactMs + compactMinMsec
	f.snapshotSizeBytes = snapshotEnd
	f.state = Idle
	return nil
}

// SaveCopy writes a fresh standalone log at path: the schema record
// followed by one transaction record containing db's entire current
// content as inserts, durably committed. On any error path is unlinked.
func SaveCopy(path string, comment string, db *datum.Database) error {
	log, err := jlog.Open(path, []string{jlog.StandaloneMagic}, jlog.CreateExclusive, jlog.LockForce)
	if err != nil {
		return err
	}
	if _, err := writeSnapshot(log, comment, db); err != nil {
		log.Close()
		os.Remove(path)
		return err
	}
	if err := log.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// writeSnapshot appends db.Schema's record followed by one transaction
// record re-inserting every row db currently holds, then durably commits.
// The insert transaction runs against a throwaway empty database sharing
// db's schema, so the rows being copied never collide with themselves.
// It returns the log's offset immediately after the snapshot record (the
// size of the schema-plus-snapshot log), the baseline callers use for the
// compaction ratio gate.
func writeSnapshot(log *jlog.Log, comment string, db *datum.Database) (snapshotEnd int64, err error) {
	schemaRaw, err := db.Schema.ToJSON()
	if err != nil {
		return 0, dberrors.Wrap(dberrors.KindSyntax, err, "failed to encode schema")
	}
	if err := log.Append(jlog.Record(schemaRaw)); err != nil {
		return 0, err
	}

	scratch := datum.NewDatabase(db.Schema)
	snapshot := scratch.Begin()
	for tableName, table := range db.Tables {
		for id, row := range table.Rows {
			cols := make(map[int]datum.Datum, len(row.Cols))
			for idx, d := range row.Cols {
				cols[idx] = d
			}
			if err := snapshot.Insert(tableName, id, cols); err != nil {
				return 0, err
			}
		}
	}

	rec, ok := txn.TxnToRecord(snapshot, comment)
	if ok {
		if err := log.Append(jlog.Record(rec)); err != nil {
			return 0, err
		}
	}
	if err := log.Commit(); err != nil {
		return 0, err
	}
	return log.Offset()
}

// ReadSchema opens path read-only with no lock, reads and parses its first
// record as a schema, then closes -- the probe db-name/db-version/db-cksum
// use without paying for a full replay.
func ReadSchema(path string) (*dbschema.Schema, error) {
	log, err := jlog.Open(path, []string{jlog.StandaloneMagic}, jlog.ReadOnly, jlog.LockForbid)
	if err != nil {
		return nil, err
	}
	defer log.Close()

	rec, err := log.Read()
	if err != nil {
		if err == io.EOF {
			return nil, dberrors.New(dberrors.KindSyntax, "%s: empty file, missing schema record", path)
		}
		return nil, err
	}
	return dbschema.FromJSON(rec)
}
