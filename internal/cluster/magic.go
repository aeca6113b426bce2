// Package cluster recognizes the clustered/raft log format's magic token so
// show-log can branch its per-record rendering; no clustered payload is
// otherwise modeled.
package cluster

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/leengari/joydb/internal/jlog"
)

// Sniff reports whether data (a prefix of a log file is enough) begins with
// the clustered magic token rather than the standalone one.
func Sniff(data []byte) bool {
	line, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine()
	return strings.HasPrefix(string(line), jlog.ClusteredMagic+" ")
}
