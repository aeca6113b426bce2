// Package main is the joydb administrative tool: create, compact, convert,
// inspect and query append-only database files from the command line.
//
// Grounded on cmd/rdbms/main.go's flag/slog bootstrap style, rebuilt on
// github.com/spf13/cobra for the multi-verb administrative surface the
// file format needs (create/compact/convert/query/transact/show-log/...)
// rather than the teacher's single server-vs-repl flag switch.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leengari/joydb/internal/observability"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var verbosity int

	root := &cobra.Command{
		Use:     "joydb",
		Short:   "Administer append-only joydb database files",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.Setup(observability.LevelForVerbosity(verbosity))
		},
	}
	root.PersistentFlags().CountVarP(&verbosity, "more", "m", "raise verbosity (repeatable)")

	root.AddCommand(
		createCmd(),
		compactCmd(),
		convertCmd(),
		needsConversionCmd(),
		dbFieldCmd("db-name", func(s *schemaFields) string { return s.Name }),
		dbFieldCmd("db-version", func(s *schemaFields) string { return s.Version }),
		dbFieldCmd("db-cksum", func(s *schemaFields) string { return s.Cksum }),
		schemaFieldCmd("schema-name", func(s *schemaFields) string { return s.Name }),
		schemaFieldCmd("schema-version", func(s *schemaFields) string { return s.Version }),
		schemaFieldCmd("schema-cksum", func(s *schemaFields) string { return s.Cksum }),
		queryCmd(),
		transactCmd(),
		showLogCmd(&verbosity),
		listCommandsCmd(root),
		clusterStubCmd("create-cluster"),
		clusterStubCmd("join-cluster"),
		dbCidCmd(),
		clusterStubCmd("db-sid"),
		clusterStubCmd("db-local-address"),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// defaultDBPath and defaultSchemaPath mirror the spec's "default DB path and
// default schema path are obtained from installation directories": a
// per-user config directory rather than a hardcoded system path.
func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "joydb", "conf.db")
}

func defaultSchemaPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "joydb", "conf.ovsschema")
}

// resolvePath dereferences path if it is (or contains) a symlink, so
// in-place operations replace the link's target rather than the link
// itself. A path that does not yet exist (e.g. a snapshot destination) is
// returned unchanged.
func resolvePath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}
