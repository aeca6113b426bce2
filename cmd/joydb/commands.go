package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leengari/joydb/internal/cluster"
	"github.com/leengari/joydb/internal/datum"
	"github.com/leengari/joydb/internal/dbfile"
	"github.com/leengari/joydb/internal/dbschema"
	"github.com/leengari/joydb/internal/jlog"
)

// schemaFields is the projection db-name/db-version/db-cksum and their
// schema-file counterparts print one field of.
type schemaFields struct {
	Name    string
	Version string
	Cksum   string
}

func fieldsOf(s *dbschema.Schema) schemaFields {
	return schemaFields{Name: s.Name, Version: s.Version, Cksum: dbschema.Checksum(s)}
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [db [schema]]",
		Short: "Create a new DB file containing only the schema record",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, schemaPath := dbAndSchemaArgs(args)
			raw, err := os.ReadFile(schemaPath)
			if err != nil {
				return fmt.Errorf("reading schema %s: %w", schemaPath, err)
			}
			schema, err := dbschema.FromJSON(raw)
			if err != nil {
				return fmt.Errorf("parsing schema %s: %w", schemaPath, err)
			}
			if err := dbfile.Create(dbPath, schema); err != nil {
				return fmt.Errorf("creating %s: %w", dbPath, err)
			}
			return nil
		},
	}
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact [db [dst]]",
		Short: "Compact a DB file in place, or write a snapshot to dst",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := defaultDBPath()
			if len(args) > 0 {
				dbPath = args[0]
			}
			if len(args) == 2 {
				return compactToDestination(dbPath, args[1])
			}
			return compactInPlace(dbPath)
		},
	}
}

func compactInPlace(dbPath string) error {
	resolved := resolvePath(dbPath)
	f, _, err := dbfile.Open(resolved, nil, false, jlog.LockForce)
	if err != nil {
		return fmt.Errorf("opening %s: %w", resolved, err)
	}
	defer f.Close()
	if err := f.Compact(); err != nil {
		return fmt.Errorf("compacting %s: %w", resolved, err)
	}
	return nil
}

func compactToDestination(dbPath, dst string) error {
	f, db, err := dbfile.Open(resolvePath(dbPath), nil, true, jlog.LockIfWritable)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	defer f.Close()
	if err := dbfile.SaveCopy(resolvePath(dst), "snapshot written by joydb compact", db); err != nil {
		return fmt.Errorf("writing snapshot to %s: %w", dst, err)
	}
	return nil
}

func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert [db [schema [dst]]]",
		Short: "Like compact, but loading under an alternate schema",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, schemaPath := defaultDBPath(), defaultSchemaPath()
			if len(args) > 0 {
				dbPath = args[0]
			}
			if len(args) > 1 {
				schemaPath = args[1]
			}
			raw, err := os.ReadFile(schemaPath)
			if err != nil {
				return fmt.Errorf("reading schema %s: %w", schemaPath, err)
			}
			altSchema, err := dbschema.FromJSON(raw)
			if err != nil {
				return fmt.Errorf("parsing schema %s: %w", schemaPath, err)
			}

			if len(args) == 3 {
				f, db, err := dbfile.Open(resolvePath(dbPath), altSchema, true, jlog.LockIfWritable)
				if err != nil {
					return fmt.Errorf("opening %s: %w", dbPath, err)
				}
				defer f.Close()
				return dbfile.SaveCopy(resolvePath(args[2]), "converted by joydb convert", db)
			}

			resolved := resolvePath(dbPath)
			f, _, err := dbfile.Open(resolved, altSchema, false, jlog.LockForce)
			if err != nil {
				return fmt.Errorf("opening %s: %w", resolved, err)
			}
			defer f.Close()
			return f.Compact()
		},
	}
}

func needsConversionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "needs-conversion [db [schema]]",
		Short: "Print yes if the DB's schema differs structurally from schema",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, schemaPath := dbAndSchemaArgs(args)
			stored, err := dbfile.ReadSchema(dbPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", dbPath, err)
			}
			raw, err := os.ReadFile(schemaPath)
			if err != nil {
				return fmt.Errorf("reading schema %s: %w", schemaPath, err)
			}
			candidate, err := dbschema.FromJSON(raw)
			if err != nil {
				return fmt.Errorf("parsing schema %s: %w", schemaPath, err)
			}
			if dbschema.Equal(stored, candidate) {
				fmt.Println("no")
			} else {
				fmt.Println("yes")
			}
			return nil
		},
	}
}

func dbAndSchemaArgs(args []string) (dbPath, schemaPath string) {
	dbPath, schemaPath = defaultDBPath(), defaultSchemaPath()
	if len(args) > 0 {
		dbPath = args[0]
	}
	if len(args) > 1 {
		schemaPath = args[1]
	}
	return dbPath, schemaPath
}

func dbFieldCmd(use string, pick func(*schemaFields) string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [db]",
		Short: "Print the database's schema " + use[3:] + " field",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := defaultDBPath()
			if len(args) > 0 {
				dbPath = args[0]
			}
			schema, err := dbfile.ReadSchema(dbPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", dbPath, err)
			}
			fields := fieldsOf(schema)
			fmt.Println(pick(&fields))
			return nil
		},
	}
}

func schemaFieldCmd(use string, pick func(*schemaFields) string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [schema]",
		Short: "Print the schema file's " + use[7:] + " field",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaPath := defaultSchemaPath()
			if len(args) > 0 {
				schemaPath = args[0]
			}
			raw, err := os.ReadFile(schemaPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", schemaPath, err)
			}
			schema, err := dbschema.FromJSON(raw)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", schemaPath, err)
			}
			fields := fieldsOf(schema)
			fmt.Println(pick(&fields))
			return nil
		},
	}
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [db] trns",
		Short: "Execute a read-only JSON transaction",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, trns := txnArgs(args)
			f, db, err := dbfile.Open(resolvePath(dbPath), nil, true, jlog.LockIfWritable)
			if err != nil {
				return fmt.Errorf("opening %s: %w", dbPath, err)
			}
			defer f.Close()

			txn := db.Begin()
			result, err := datum.Execute(txn, json.RawMessage(trns))
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			fmt.Println(string(result))
			return nil
		},
	}
}

func transactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transact [db] trns",
		Short: "Execute a JSON transaction and durably append it if it mutates",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, trns := txnArgs(args)
			resolved := resolvePath(dbPath)
			f, db, err := dbfile.Open(resolved, nil, false, jlog.LockForce)
			if err != nil {
				return fmt.Errorf("opening %s: %w", resolved, err)
			}
			defer f.Close()

			txn := db.Begin()
			result, err := datum.Execute(txn, json.RawMessage(trns))
			if err != nil {
				return fmt.Errorf("transact: %w", err)
			}
			txn.Commit()
			if err := f.Commit(txn, true); err != nil {
				return fmt.Errorf("committing transaction: %w", err)
			}
			fmt.Println(string(result))
			return nil
		},
	}
}

func txnArgs(args []string) (dbPath, trns string) {
	if len(args) == 2 {
		return args[0], args[1]
	}
	return defaultDBPath(), args[0]
}

func listCommandsCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "list-commands",
		Short: "List every administrative command",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range root.Commands() {
				fmt.Println(c.Name())
			}
			return nil
		},
	}
}

func clusterStubCmd(use string) *cobra.Command {
	return &cobra.Command{
		Use:    use,
		Short:  "Clustered log support is out of scope",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("%s: clustered log operations are not implemented", use)
		},
	}
}

func dbCidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-cid [db]",
		Short: "Print the database's cluster ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			// A standalone (non-clustered) database never has a cluster ID;
			// this is the well-known "not yet known" signal, not an error.
			fmt.Fprintln(os.Stderr, "cluster ID not yet known")
			os.Exit(2)
			return nil
		},
	}
}

func showLogCmd(verbosity *int) *cobra.Command {
	return &cobra.Command{
		Use:   "show-log [db]",
		Short: "Dump a record-by-record human-readable summary of a DB file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := defaultDBPath()
			if len(args) > 0 {
				dbPath = args[0]
			}
			return runShowLog(dbPath, *verbosity)
		},
	}
}

func runShowLog(path string, level int) error {
	prefix, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if cluster.Sniff(prefix) {
		return showClusteredLog(path, level)
	}
	return showStandaloneLog(path, level)
}

func showStandaloneLog(path string, level int) error {
	log, err := jlog.Open(path, []string{jlog.StandaloneMagic}, jlog.ReadOnly, jlog.LockForbid)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer log.Close()

	var schema *dbschema.Schema
	n := 0
	for {
		rec, err := log.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading record %d of %s: %w", n+1, path, err)
		}
		n++
		if n == 1 {
			var parseErr error
			schema, parseErr = dbschema.FromJSON(rec)
			if parseErr != nil {
				fmt.Printf("record %d: malformed schema record: %v\n", n, parseErr)
				continue
			}
			fmt.Printf("record %d: schema %q version %s\n", n, schema.Name, schema.Version)
			continue
		}
		fmt.Printf("record %d: %s\n", n, recordHeaderLine(rec, len(rec)))
		if level >= 2 && schema != nil {
			printDecodedRecord(rec)
		}
	}
	return nil
}

// recordHeaderLine renders a transaction record's one-line summary: its
// byte size plus its _date, if present, rendered as a timestamp.
func recordHeaderLine(rec []byte, size int) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rec, &doc); err != nil {
		return fmt.Sprintf("%d bytes", size)
	}
	raw, ok := doc["_date"]
	if !ok {
		return fmt.Sprintf("%d bytes", size)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return fmt.Sprintf("%d bytes", size)
	}
	return fmt.Sprintf("%d bytes, %s", size, formatRecordDate(ms))
}

// formatRecordDate renders a _date value as a timestamp. Older transaction
// logs stamped _date in whole seconds rather than milliseconds; a value
// under 2^31 is assumed to be seconds and scaled up before rendering, the
// same heuristic ovsdb-tool's own log dumper uses to stay compatible with
// those older logs.
func formatRecordDate(value int64) string {
	if value < 1<<31 {
		value *= 1000
	}
	return time.UnixMilli(value).UTC().Format(time.RFC3339)
}

func printDecodedRecord(rec []byte) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rec, &doc); err != nil {
		return
	}
	for table, delta := range doc {
		if table == "_date" || table == "_comment" {
			continue
		}
		fmt.Printf("  table %s: %s\n", table, string(delta))
	}
}

func showClusteredLog(path string, level int) error {
	log, err := jlog.Open(path, []string{jlog.ClusteredMagic}, jlog.ReadOnly, jlog.LockForbid)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer log.Close()

	n := 0
	for {
		rec, err := log.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading record %d of %s: %w", n+1, path, err)
		}
		n++
		if n == 1 {
			fmt.Printf("record 0 (cluster metadata): %s\n", string(rec))
			continue
		}
		fmt.Printf("record %d (raft entry): %s\n", n, string(rec))
	}
	return nil
}
