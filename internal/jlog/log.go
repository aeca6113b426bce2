// Package jlog implements the append-only, length-and-checksum-framed
// record log described in the database file layer: one magic-tagged header
// line followed by a JSON payload, repeated for as many records as the file
// holds, with support for atomic whole-file replacement (compaction).
//
// Grounded on internal/wal's writer/reader/offset-tracking split, adapted
// from its fixed binary header to the spec's ASCII "MAGIC LENGTH CHECKSUM\n"
// framing.
package jlog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leengari/joydb/internal/dberrors"
)

// Mode selects how the log's underlying file is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
	CreateExclusive
)

// Record is one framed unit: the record's JSON payload. The magic token it
// was read under is not retained; callers already know which magics they
// asked for.
type Record []byte

// Log is a single-writer, append-only framed record file.
type Log struct {
	path          string
	mode          Mode
	acceptedMagic []string
	writeMagic    string

	file     *os.File
	w        *bufio.Writer
	r        *bufio.Reader
	locked   bool
	offset   int64 // end of the last record read or appended
	readPos  int64
	pushback *Record // exactly one level of unread() pushback
}

// Open opens or creates the log at path. acceptedMagics lists the magic
// tokens Open will recognize on read (both the standalone and clustered
// tokens may be passed to allow either). The first entry is used as the
// write magic for CreateExclusive/Append.
func Open(path string, acceptedMagics []string, mode Mode, locking Locking) (*Log, error) {
	if len(acceptedMagics) == 0 {
		return nil, dberrors.New(dberrors.KindState, "jlog.Open: no accepted magics given")
	}

	var flags int
	switch mode {
	case ReadOnly:
		flags = os.O_RDONLY
	case ReadWrite:
		flags = os.O_RDWR
	case CreateExclusive:
		flags = os.O_RDWR | os.O_CREATE | os.O_EXCL
	default:
		return nil, dberrors.New(dberrors.KindState, "jlog.Open: unknown mode %d", mode)
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dberrors.Wrap(dberrors.KindNotFound, err, "%s: no such file", path)
		}
		return nil, dberrors.Wrap(dberrors.KindIO, err, "%s: open failed", path)
	}

	if mode != ReadOnly {
		locked, lockErr := acquireLock(f, mode, locking)
		if lockErr != nil {
			f.Close()
			return nil, lockErr
		}
		// The log's write position tracks the OS file descriptor's
		// position directly: a caller replays existing records by
		// calling Read() until io.EOF, which leaves the descriptor at
		// the true end of file (or at a tail truncation point via
		// seekToReadPos), and only then starts Append-ing. No eager
		// seek-to-end is done here.
		log := &Log{
			path:          path,
			mode:          mode,
			acceptedMagic: acceptedMagics,
			writeMagic:    acceptedMagics[0],
			file:          f,
			w:             bufio.NewWriter(f),
			r:             bufio.NewReader(f),
			locked:        locked,
		}
		return log, nil
	}

	locked, lockErr := acquireLock(f, mode, locking)
	if lockErr != nil {
		f.Close()
		return nil, lockErr
	}
	return &Log{
		path:          path,
		mode:          mode,
		acceptedMagic: acceptedMagics,
		writeMagic:    acceptedMagics[0],
		file:          f,
		r:             bufio.NewReader(f),
		locked:        locked,
	}, nil
}

// Read returns the next record, io.EOF at a clean end of stream (including
// a tail-truncated final record or a final record whose checksum does not
// match), or a framing error for a bad magic or a checksum mismatch on a
// record that is followed by more data.
func (l *Log) Read() (Record, error) {
	if l.pushback != nil {
		rec := *l.pushback
		l.pushback = nil
		return rec, nil
	}

	startPos := l.readPos
	magic, length, checksum, err := readHeader(l.r)
	if err == io.EOF {
		l.offset = l.readPos
		return nil, io.EOF
	}
	if err == errShortHeader || err == errMalformedHeader {
		slog.Debug("jlog: tail-truncated header, treating as EOF", "path", l.path, "offset", startPos)
		l.seekToReadPos(startPos)
		return nil, io.EOF
	}
	if err != nil {
		return nil, dberrors.Wrap(dberrors.KindIO, err, "%s: header read failed at offset %d", l.path, startPos)
	}

	if !l.magicAccepted(magic) {
		return nil, dberrors.New(dberrors.KindFraming, "%s: unrecognized magic %q at offset %d", l.path, magic, startPos)
	}

	payload := make([]byte, length)
	n, err := io.ReadFull(l.r, payload)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		slog.Debug("jlog: tail-truncated payload, treating as EOF", "path", l.path, "offset", startPos, "read", n, "want", length)
		l.seekToReadPos(startPos)
		return nil, io.EOF
	}
	if err != nil {
		return nil, dberrors.Wrap(dberrors.KindIO, err, "%s: payload read failed at offset %d", l.path, startPos)
	}

	if !verifyChecksum(payload, checksum) {
		if _, perr := l.r.Peek(1); perr == io.EOF {
			slog.Debug("jlog: checksum mismatch on final record, treating as EOF", "path", l.path, "offset", startPos)
			l.seekToReadPos(startPos)
			return nil, io.EOF
		}
		return nil, dberrors.New(dberrors.KindFraming, "%s: checksum mismatch at offset %d", l.path, startPos)
	}

	l.readPos = startPos + int64(headerLen(magic, length, checksum)) + int64(length)
	l.offset = l.readPos
	rec := Record(payload)
	l.pushback = nil
	return rec, nil
}

// seekToReadPos repositions both the OS file descriptor and the buffered
// reader to pos, discarding any buffered bytes past the truncation point.
func (l *Log) seekToReadPos(pos int64) {
	l.readPos = pos
	l.offset = pos
	if _, err := l.file.Seek(pos, io.SeekStart); err != nil {
		slog.Warn("jlog: seek to truncation point failed", "path", l.path, "error", err)
		return
	}
	l.r.Reset(l.file)
}

func headerLen(magic string, length int, checksum uint32) int {
	return len(fmt.Sprintf("%s %d %08x\n", magic, length, checksum))
}

func (l *Log) magicAccepted(magic string) bool {
	for _, m := range l.acceptedMagic {
		if m == magic {
			return true
		}
	}
	return false
}

// Unread pushes the most recently returned record back so the next Read
// returns it again. Only one level of pushback is supported.
func (l *Log) Unread(rec Record) {
	l.pushback = &rec
}

// Append buffers rec for writing. It is not durable until Commit.
func (l *Log) Append(rec Record) error {
	if l.mode == ReadOnly {
		return dberrors.New(dberrors.KindState, "%s: append on read-only log", l.path)
	}
	if err := writeHeader(l.w, l.writeMagic, rec); err != nil {
		return dberrors.Wrap(dberrors.KindIO, err, "%s: header write failed", l.path)
	}
	if _, err := l.w.Write(rec); err != nil {
		return dberrors.Wrap(dberrors.KindIO, err, "%s: payload write failed", l.path)
	}
	l.offset += int64(headerLen(l.writeMagic, len(rec), 0)) + int64(len(rec))
	return nil
}

// Commit flushes buffered writes and fsyncs the file, establishing a
// durability barrier.
func (l *Log) Commit() error {
	if l.mode == ReadOnly {
		return dberrors.New(dberrors.KindState, "%s: commit on read-only log", l.path)
	}
	if err := l.w.Flush(); err != nil {
		return dberrors.Wrap(dberrors.KindIO, err, "%s: flush failed", l.path)
	}
	if err := l.file.Sync(); err != nil {
		return dberrors.Wrap(dberrors.KindIO, err, "%s: fsync failed", l.path)
	}
	return nil
}

// Offset returns the log's current logical byte position: the end of the
// last record returned by Read, or the end of the last record buffered by
// Append (whichever happened most recently). Valid in any mode.
func (l *Log) Offset() (int64, error) {
	return l.offset, nil
}

// ReplaceStart opens a sibling temporary log at path+".tmp" for writing a
// replacement. The receiver remains usable for reads.
func (l *Log) ReplaceStart() (*Log, error) {
	tmpPath := l.path + ".tmp"
	return Open(tmpPath, []string{l.writeMagic}, CreateExclusiveOrTruncate(tmpPath), LockForce)
}

// CreateExclusiveOrTruncate removes a stale .tmp file (from a previous
// failed compaction) before requesting CreateExclusive, so retries do not
// wedge on EEXIST.
func CreateExclusiveOrTruncate(tmpPath string) Mode {
	if _, err := os.Stat(tmpPath); err == nil {
		os.Remove(tmpPath)
	}
	return CreateExclusive
}

// ReplaceCommit fsyncs newLog, renames it over the receiver's path, fsyncs
// the containing directory, then closes the old descriptor and repoints the
// receiver at the new file. On rename failure the receiver is left
// untouched and the caller is responsible for removing newLog's temp file.
func (l *Log) ReplaceCommit(newLog *Log) error {
	if err := newLog.Commit(); err != nil {
		return dberrors.Wrap(dberrors.KindIO, err, "%s: fsync of replacement failed", newLog.path)
	}

	if err := os.Rename(newLog.path, l.path); err != nil {
		return dberrors.Wrap(dberrors.KindIO, err, "%s: rename of replacement over %s failed", newLog.path, l.path)
	}

	if err := fsyncDir(filepath.Dir(l.path)); err != nil {
		slog.Warn("jlog: directory fsync after rename failed", "path", l.path, "error", err)
	}

	releaseLock(l.file, l.locked)
	l.file.Close()

	l.file = newLog.file
	l.w = newLog.w
	l.r = newLog.r
	l.locked = newLog.locked
	l.offset = newLog.offset
	l.readPos = 0
	l.pushback = nil
	l.writeMagic = newLog.writeMagic

	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Close releases the lock and underlying descriptor. It does not flush or
// fsync; call Commit first if durability is required.
func (l *Log) Close() error {
	releaseLock(l.file, l.locked)
	return l.file.Close()
}

// Path returns the path the log was opened with (or most recently replaced
// onto).
func (l *Log) Path() string { return l.path }
