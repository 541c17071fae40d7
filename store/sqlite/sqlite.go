// Package sqlite implements ragkit.VectorStore using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nevindra/ragkit"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithEmbedding sets the provider used to embed SearchRequest.Query when no
// QueryVector is given.
func WithEmbedding(e ragkit.EmbeddingProvider) StoreOption {
	return func(s *Store) { s.embedding = e }
}

// Store implements ragkit.VectorStore backed by a local SQLite file.
// Embeddings and metadata are stored as JSON text and vector search is done
// in-process using brute-force cosine similarity.
type Store struct {
	db        *sql.DB
	logger    *slog.Logger
	embedding ragkit.EmbeddingProvider
}

var _ ragkit.VectorStore = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: ragkit.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the documents table and its indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Add inserts one row per document in a single transaction and returns the
// new ids in input order.
func (s *Store) Add(ctx context.Context, vectors [][]float32, documents []string, metadata []map[string]any) ([]string, error) {
	if err := ragkit.CheckAddArgs(vectors, documents, metadata); err != nil {
		return nil, err
	}
	start := time.Now()
	s.logger.Debug("sqlite: add", "documents", len(documents))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (id, user_id, content, metadata, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := ragkit.NowUnix()
	ids := make([]string, len(documents))
	for i, content := range documents {
		var meta map[string]any
		if metadata != nil {
			meta = metadata[i]
		}
		var metaJSON *string
		userID := ""
		if meta != nil {
			data, err := json.Marshal(meta)
			if err != nil {
				return nil, fmt.Errorf("sqlite: marshal metadata %d: %w", i, err)
			}
			v := string(data)
			metaJSON = &v
			if u, ok := meta[ragkit.MetaUserID]; ok {
				userID = fmt.Sprint(u)
			}
		}
		var embJSON *string
		if len(vectors[i]) > 0 {
			v := serializeEmbedding(vectors[i])
			embJSON = &v
		}

		ids[i] = ragkit.NewID()
		if _, err := stmt.ExecContext(ctx, ids[i], userID, content, metaJSON, embJSON, now); err != nil {
			s.logger.Error("sqlite: insert document failed", "index", i, "error", err)
			return nil, fmt.Errorf("sqlite: insert document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: add commit failed", "error", err)
		return nil, fmt.Errorf("sqlite: commit tx: %w", err)
	}
	s.logger.Debug("sqlite: add ok", "documents", len(ids), "duration", time.Since(start))
	return ids, nil
}

// Search scores every embedded document owned by req.UserID against the
// query vector and returns the TopK most similar.
func (s *Store) Search(ctx context.Context, req ragkit.SearchRequest) ([]ragkit.Document, error) {
	req, err := req.Validate()
	if err != nil {
		return nil, err
	}
	vec, err := req.ResolveVector(ctx, s.embedding)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	start := time.Now()
	s.logger.Debug("sqlite: search", "user_id", req.UserID, "top_k", req.TopK, "embedding_dim", len(vec), "filters", len(req.Filter))

	whereExtra, filterArgs := buildMetaFilters(req.Filter)
	query := `SELECT id, content, metadata, embedding FROM documents
		WHERE user_id = ? AND embedding IS NOT NULL` + whereExtra
	args := append([]any{req.UserID}, filterArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var results []ragkit.Document
	scanned := 0
	for rows.Next() {
		var d ragkit.Document
		var metaJSON sql.NullString
		var embJSON string
		if err := rows.Scan(&d.ID, &d.PageContent, &metaJSON, &embJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan document: %w", err)
		}
		scanned++
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &d.Metadata); err != nil {
				s.logger.Warn("sqlite: skipping document with unreadable metadata", "id", d.ID, "error", err)
				continue
			}
		}
		if !ragkit.MatchesFilter(d.Metadata, req.UserID, req.Filter) {
			continue
		}
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			s.logger.Warn("sqlite: skipping document with unreadable embedding", "id", d.ID, "error", err)
			continue
		}
		d.Score = cosineSimilarity(vec, stored)
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate documents: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}
	s.logger.Debug("sqlite: search ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// Delete removes the given documents owned by userID and reports how many
// rows were deleted.
func (s *Store) Delete(ctx context.Context, userID string, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := []any{userID}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("sqlite: delete ok", "user_id", userID, "deleted", n)
	return int(n), nil
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	return s.db.Close()
}

// safeMetaKey returns true if the key contains only alphanumeric chars and underscores.
// This prevents SQL injection when the key is interpolated into JSON path expressions.
func safeMetaKey(key string) bool {
	for _, c := range key {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return len(key) > 0
}

// buildMetaFilters pushes string equality filters on safe keys down into
// SQL. Only values stored as JSON text are compared in SQL; numbers and
// booleans pass through to the in-process check, which compares their text
// form. Every filter is still checked in-process after the scan.
func buildMetaFilters(filter map[string]any) (string, []any) {
	var clauses []string
	var args []any
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := filter[k].(string)
		if !ok || !safeMetaKey(k) {
			continue
		}
		path := "'$." + k + "'"
		clauses = append(clauses, "(json_type(metadata, "+path+") IS NOT 'text' OR json_extract(metadata, "+path+") = ?)")
		args = append(args, v)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
