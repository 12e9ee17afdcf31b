// Package accelcache implements the optional secondary accelerator in front
// of the Encoder Adapter: a cross-root, content-addressed cache of
// (content_hash, model_config) -> embedding. It is never authoritative — the
// Index State's functions.json/embeddings.npy/faiss.index/meta.json remain
// the sole source of truth for is_up_to_date and for what a reload
// reconstructs. A missing or corrupt accelerator never blocks a build, it
// only costs a re-encode.
package accelcache

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	content_hash TEXT NOT NULL,
	model_config TEXT NOT NULL,
	dim INTEGER NOT NULL,
	vector BLOB NOT NULL,
	PRIMARY KEY (content_hash, model_config)
);`

// Cache is a handle on the accelerator database.
type Cache struct {
	db *sql.DB
}

// Open creates or opens the sqlite-backed accelerator at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("accelcache: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("accelcache: migrate %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached embedding for (contentHash, modelConfig), if any.
func (c *Cache) Get(contentHash, modelConfig string) ([]float32, bool, error) {
	row := c.db.QueryRow(
		`SELECT dim, vector FROM embeddings WHERE content_hash = ? AND model_config = ?`,
		contentHash, modelConfig,
	)
	var dim int
	var blob []byte
	if err := row.Scan(&dim, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return decodeVector(blob, dim), true, nil
}

// Put stores an embedding for (contentHash, modelConfig), overwriting any
// prior entry for the same key.
func (c *Cache) Put(contentHash, modelConfig string, vector []float32) error {
	_, err := c.db.Exec(
		`INSERT INTO embeddings (content_hash, model_config, dim, vector) VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_hash, model_config) DO UPDATE SET vector = excluded.vector, dim = excluded.dim`,
		contentHash, modelConfig, len(vector), encodeVector(vector),
	)
	return err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte, dim int) []float32 {
	v := make([]float32, dim)
	for i := 0; i < dim && (i+1)*4 <= len(buf); i++ {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}
