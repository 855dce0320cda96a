package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"refdesk/internal/embeddings"
)

type PostgresStore struct {
	db   *sql.DB
	dims int
}

// NewPostgres opens the database and runs migrations. dims is the vector
// width of the configured embedding model; it is baked into the DDL, so
// switching models requires a from-scratch rebuild.
func NewPostgres(dsn string, dims int) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db, dims: dims}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock so gateway and workers can migrate concurrently at boot.
	const lockID = 771203941

	var acquired bool
	if err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		// Another service is migrating; wait briefly and assume it finished.
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			id UUID PRIMARY KEY,
			key TEXT UNIQUE NOT NULL,
			title TEXT,
			authors TEXT,
			year TEXT,
			doi TEXT,
			tags TEXT[],
			status TEXT,
			indexed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			paper_id UUID REFERENCES papers(id) ON DELETE CASCADE,
			ord INT,
			text TEXT,
			word_count INT
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id UUID PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			vector vector(%d),
			model TEXT
		);`, s.dims),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS chunk_embeddings_vector_idx
		ON chunk_embeddings USING ivfflat (vector vector_cosine_ops)
		WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertPaper(ctx context.Context, paper Paper) (Paper, error) {
	if paper.ID == uuid.Nil {
		paper.ID = uuid.New()
	}
	if paper.Status == "" {
		paper.Status = StatusPending
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO papers(id, key, title, authors, year, doi, tags, status)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (key) DO UPDATE
		SET title=excluded.title, authors=excluded.authors, year=excluded.year,
		    doi=excluded.doi, tags=excluded.tags, status=excluded.status
		RETURNING id`,
		paper.ID, paper.Key, paper.Title, paper.Authors, paper.Year, paper.DOI, pqStringArray(paper.Tags), paper.Status)
	if err := row.Scan(&paper.ID); err != nil {
		return Paper{}, err
	}
	return paper, nil
}

func (s *PostgresStore) UpdatePaperStatus(ctx context.Context, id uuid.UUID, status PaperStatus) error {
	var res sql.Result
	var err error
	if status == StatusIndexed {
		res, err = s.db.ExecContext(ctx, `UPDATE papers SET status=$1, indexed_at=now() WHERE id=$2`, status, id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE papers SET status=$1 WHERE id=$2`, status, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaperNotFound
	}
	return nil
}

func (s *PostgresStore) GetPaperByTitle(ctx context.Context, title string) (Paper, error) {
	var p Paper
	var indexedAt sql.NullTime
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key, title, authors, year, doi, tags, status, indexed_at
		FROM papers WHERE lower(title) = lower($1) LIMIT 1`, title)
	if err := row.Scan(&p.ID, &p.Key, &p.Title, &p.Authors, &p.Year, &p.DOI, pq.Array(&p.Tags), &p.Status, &indexedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Paper{}, ErrPaperNotFound
		}
		return Paper{}, fmt.Errorf("failed to get paper %q: %w", title, err)
	}
	if indexedAt.Valid {
		p.IndexedAt = indexedAt.Time
	}
	return p, nil
}

func (s *PostgresStore) IndexedKeys(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM papers WHERE status=$1`, StatusIndexed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

// ReplaceChunks swaps a paper's chunks atomically so reindexing never leaves
// a mix of old and new windows.
func (s *PostgresStore) ReplaceChunks(ctx context.Context, paperID uuid.UUID, chunks []Chunk) ([]Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE paper_id=$1`, paperID); err != nil {
		return nil, err
	}
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		cid := uuid.New()
		_, err := tx.ExecContext(ctx, `INSERT INTO chunks(id, paper_id, ord, text, word_count) VALUES($1,$2,$3,$4,$5)`,
			cid, paperID, c.Index, c.Text, c.WordCount)
		if err != nil {
			return nil, err
		}
		c.ID = cid
		c.PaperID = paperID
		out = append(out, c)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, paperID uuid.UUID) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ord, text, word_count FROM chunks WHERE paper_id=$1 ORDER BY ord`, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Index, &c.Text, &c.WordCount); err != nil {
			return nil, err
		}
		c.PaperID = paperID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveEmbeddings(ctx context.Context, embs []Embedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, emb := range embs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunk_embeddings(chunk_id, vector, model)
			VALUES($1,$2::vector,$3)
			ON CONFLICT (chunk_id) DO UPDATE SET vector=excluded.vector, model=excluded.model`,
			emb.ChunkID, vectorToString(emb.Vector), emb.Model)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) TopK(ctx context.Context, vector embeddings.Vector, k int) ([]SearchResult, error) {
	queryVec := vectorToString(vector)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.id, c.paper_id, c.ord, c.text, c.word_count,
			p.key, p.title, p.authors, p.year, p.doi, p.tags,
			1 - (e.vector <=> $1::vector) AS similarity
		FROM chunk_embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN papers p ON p.id = c.paper_id
		ORDER BY e.vector <=> $1::vector
		LIMIT $2
	`, queryVec, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.PaperID, &r.Chunk.Index, &r.Chunk.Text, &r.Chunk.WordCount,
			&r.Paper.Key, &r.Paper.Title, &r.Paper.Authors, &r.Paper.Year, &r.Paper.DOI, pq.Array(&r.Paper.Tags),
			&r.Score,
		); err != nil {
			return nil, err
		}
		r.Paper.ID = r.Chunk.PaperID
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE papers CASCADE`)
	return err
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM papers),
			(SELECT count(*) FROM papers WHERE status=$1),
			(SELECT count(*) FROM chunks)`, StatusIndexed)
	if err := row.Scan(&st.Papers, &st.IndexedPapers, &st.Chunks); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func pqStringArray(items []string) any {
	if len(items) == 0 {
		return pq.Array([]string{})
	}
	return pq.Array(items)
}

// vectorToString converts a Vector to pgvector literal format: "[0.1,0.2,...]".
func vectorToString(v embeddings.Vector) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
