// Package postgres implements ragkit.VectorStore using PostgreSQL with
// pgvector for native vector similarity search.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/ragkit"
)

// Store implements ragkit.VectorStore backed by PostgreSQL with pgvector.
// Vector search uses an HNSW index with cosine distance.
type Store struct {
	pool      *pgxpool.Pool
	cfg       pgConfig
	logger    *slog.Logger
	embedding ragkit.EmbeddingProvider
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
	logger             *slog.Logger
	embedding          ragkit.EmbeddingProvider
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Only affects index creation.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Applied with SET LOCAL inside each search transaction.
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(c *pgConfig) { c.logger = l }
}

// WithEmbedding sets the provider used to embed SearchRequest.Query when no
// QueryVector is given.
func WithEmbedding(e ragkit.EmbeddingProvider) Option {
	return func(c *pgConfig) { c.embedding = e }
}

var _ ragkit.VectorStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = ragkit.NopLogger()
	}
	return &Store{pool: pool, cfg: cfg, logger: logger, embedding: cfg.embedding}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// schema returns the idempotent DDL statements run by Init.
func (s *Store) schema() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding ` + s.vectorType() + `,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS documents_user_idx ON documents(user_id)`,
		`CREATE INDEX IF NOT EXISTS documents_embedding_idx ON documents
			USING hnsw (embedding vector_cosine_ops)` + s.hnswWithClause(),
	}
}

// Init creates the pgvector extension, the documents table, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	for _, stmt := range s.schema() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	s.logger.Info("postgres: init completed", "duration", time.Since(start))
	return nil
}

// Add inserts one row per document in a single batch transaction and returns
// the new ids in input order.
func (s *Store) Add(ctx context.Context, vectors [][]float32, documents []string, metadata []map[string]any) ([]string, error) {
	if err := ragkit.CheckAddArgs(vectors, documents, metadata); err != nil {
		return nil, err
	}
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := ragkit.NowUnix()
	ids := make([]string, len(documents))
	batch := &pgx.Batch{}
	for i, content := range documents {
		var meta map[string]any
		if metadata != nil {
			meta = metadata[i]
		}
		userID := ""
		var metaJSON *string
		if meta != nil {
			data, err := json.Marshal(meta)
			if err != nil {
				return nil, fmt.Errorf("postgres: marshal metadata %d: %w", i, err)
			}
			v := string(data)
			metaJSON = &v
			if u, ok := meta[ragkit.MetaUserID]; ok {
				userID = fmt.Sprint(u)
			}
		}
		var embStr *string
		if len(vectors[i]) > 0 {
			v := serializeEmbedding(vectors[i])
			embStr = &v
		}
		ids[i] = ragkit.NewID()
		batch.Queue(
			`INSERT INTO documents (id, user_id, content, metadata, embedding, created_at)
			 VALUES ($1, $2, $3, $4::jsonb, $5::vector, $6)`,
			ids[i], userID, content, metaJSON, embStr, now)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		s.logger.Error("postgres: insert documents failed", "error", err)
		return nil, fmt.Errorf("postgres: insert documents: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit tx: %w", err)
	}
	s.logger.Debug("postgres: add ok", "documents", len(ids), "duration", time.Since(start))
	return ids, nil
}

// Search performs vector similarity search over the documents owned by
// req.UserID using pgvector's cosine distance operator.
func (s *Store) Search(ctx context.Context, req ragkit.SearchRequest) ([]ragkit.Document, error) {
	req, err := req.Validate()
	if err != nil {
		return nil, err
	}
	vec, err := req.ResolveVector(ctx, s.embedding)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	start := time.Now()

	whereExtra, filterArgs := buildMetaFiltersPg(req.Filter, 4) // $1=embedding, $2=topK, $3=user_id
	q := `SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
		 FROM documents
		 WHERE user_id = $3 AND embedding IS NOT NULL` + whereExtra + `
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`
	args := append([]any{serializeEmbedding(vec), req.TopK, req.UserID}, filterArgs...)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if s.cfg.hnswEFSearch > 0 {
		if _, err := tx.Exec(ctx, "SET LOCAL hnsw.ef_search = "+strconv.Itoa(s.cfg.hnswEFSearch)); err != nil {
			return nil, fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	var results []ragkit.Document
	for rows.Next() {
		var d ragkit.Document
		var metaJSON []byte
		if err := rows.Scan(&d.ID, &d.PageContent, &metaJSON, &d.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan document: %w", err)
		}
		if metaJSON != nil {
			if err := json.Unmarshal(metaJSON, &d.Metadata); err != nil {
				s.logger.Warn("postgres: skipping document with unreadable metadata", "id", d.ID, "error", err)
				continue
			}
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate documents: %w", err)
	}
	s.logger.Debug("postgres: search ok", "user_id", req.UserID, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// Delete removes the given documents owned by userID and reports how many
// rows were deleted.
func (s *Store) Delete(ctx context.Context, userID string, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op. The caller owns the pool.
func (s *Store) Close() error {
	return nil
}

// buildMetaFiltersPg turns filter entries into metadata->>key comparisons.
// Keys and values are both bound as parameters; values compare by their text
// form so numbers match regardless of JSON type.
func buildMetaFiltersPg(filter map[string]any, startParam int) (string, []any) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any
	p := startParam
	for _, k := range keys {
		clauses = append(clauses, fmt.Sprintf("metadata->>($%d::text) = $%d", p, p+1))
		args = append(args, k, fmt.Sprint(filter[k]))
		p += 2
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// serializeEmbedding converts []float32 to pgvector literal format: [0.1,0.2,0.3].
func serializeEmbedding(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
