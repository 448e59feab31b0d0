// Package sqlite implements the durable repository contracts over an
// embedded relational engine: skills with FTS5 full-text search, knowledge
// entities/relationships/embeddings, checkpoints, sessions with event
// trail, and router model statistics.
//
// Grounded on ODSapper-CLIAIMONITOR's modernc.org/sqlite usage (pure-Go
// driver, database/sql, pragma setup at open) and r3e-network-
// service_layer's repository-struct-per-table layout.
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"

	_ "modernc.org/sqlite"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// DB wraps the open pool so every repository shares one handle and the
// shutdown handler has a single Close target.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the database file at path with
// foreign keys enforced and a busy timeout suited to the lock manager's
// retry cadence.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, demerr.Wrap(demerr.Storage, "sqlite.Open", "open database", err)
	}
	// modernc's driver is not safe for concurrent writers over multiple
	// connections on one file; a single connection serializes writes so
	// each repository method runs as one implicit transaction.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, demerr.Wrap(demerr.Storage, "sqlite.Open", "ping database", err)
	}
	return &DB{sql: db}, nil
}

// SQL exposes the underlying pool for the migrator.
func (d *DB) SQL() *sql.DB { return d.sql }

// Close closes the pool.
func (d *DB) Close() error { return d.sql.Close() }

func storageErr(op, msg string, err error) error {
	return demerr.Wrap(demerr.Storage, op, msg, err)
}

// encodeStrings serializes a string slice into a JSON TEXT column.
func encodeStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func decodeStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// encodeVector packs an f32 vector into the raw little-endian BLOB layout
// "Embedding".
func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// ftsQuote wraps each term in double quotes so free-form query text can't
// be misread as FTS5 operator syntax.
func ftsQuote(query string) string {
	var out []byte
	out = append(out, '"')
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '"' {
			out = append(out, '"')
		}
		out = append(out, c)
	}
	return string(append(out, '"'))
}
