package jlog

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
)

// A record on disk is:
//
//	MAGIC LENGTH CHECKSUM\n
//	<LENGTH bytes of UTF-8 JSON payload>
//
// MAGIC identifies the file kind, LENGTH is the decimal payload length and
// CHECKSUM is the lower-case hex of the IEEE CRC32 of the payload.

// StandaloneMagic identifies a single-writer database log.
const StandaloneMagic = "OVSDB JSON"

// ClusteredMagic identifies the clustered/raft log variant. Only used for
// show-log's format detection; no clustered payload is modeled here.
const ClusteredMagic = "CLUSTER JSON"

func writeHeader(w io.Writer, magic string, payload []byte) error {
	crc := crc32.ChecksumIEEE(payload)
	_, err := fmt.Fprintf(w, "%s %d %08x\n", magic, len(payload), crc)
	return err
}

// readHeader reads one header line and returns the declared magic, length
// and checksum. io.EOF is returned verbatim when nothing could be read at
// all (clean end of stream); any other error indicates a partial or
// malformed header line. The magic token itself may contain spaces (e.g.
// "OVSDB JSON"), so LENGTH and CHECKSUM are peeled off as the line's last
// two whitespace-separated fields and everything before them is the magic,
// rather than scanning word-by-word with "%s". Whether the recovered magic
// is actually one this reader accepts is the caller's concern (magicAccepted).
func readHeader(r *bufio.Reader) (magic string, length int, checksum uint32, err error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", 0, 0, io.EOF
		}
		// A short read without a trailing newline is a truncated tail.
		return "", 0, 0, errShortHeader
	}
	if len(line) > 0 {
		line = line[:len(line)-1]
	}

	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", 0, 0, errMalformedHeader
	}
	lengthField := fields[len(fields)-2]
	checksumField := fields[len(fields)-1]
	magic = strings.Join(fields[:len(fields)-2], " ")

	length, lerr := strconv.Atoi(lengthField)
	if lerr != nil {
		return "", 0, 0, errMalformedHeader
	}
	csum, cerr := strconv.ParseUint(checksumField, 16, 32)
	if cerr != nil {
		return "", 0, 0, errMalformedHeader
	}
	return magic, length, uint32(csum), nil
}

// errShortHeader and errMalformedHeader are internal sentinels distinguished
// from io.EOF so the caller can tell "nothing here" from "garbage here."
var (
	errShortHeader     = fmt.Errorf("jlog: short header line")
	errMalformedHeader = fmt.Errorf("jlog: malformed header line")
)

func verifyChecksum(payload []byte, want uint32) bool {
	return crc32.ChecksumIEEE(payload) == want
}
