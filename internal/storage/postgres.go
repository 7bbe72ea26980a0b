package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/bdougie/framesearch/internal/models"
)

// ErrRecordingNotFound is returned when a recording id matches no row.
var ErrRecordingNotFound = errors.New("recording not found")

// ErrRecordingConflict is returned when a recording id is already owned by
// another org.
var ErrRecordingConflict = errors.New("recording belongs to another org")

// PostgresConfig holds connection details for PostgreSQL. URL wins when set.
type PostgresConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	MaxConns int32
}

// ConnString returns the connection string for c.
func (c PostgresConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// PostgresStore persists recordings, frames, documents and chunks, and
// answers vector queries with pgvector.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects and registers the pgvector types on every
// connection. The vector extension must already exist; see InitSchema.
func NewPostgresStore(ctx context.Context, config PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const ensureRecordingSQL = `
	INSERT INTO recordings (id, org_id, title, video_url, visual_indexing_status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, now(), now())
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		video_url = EXCLUDED.video_url,
		updated_at = now()
	WHERE recordings.org_id = EXCLUDED.org_id
	RETURNING visual_indexing_status, created_at, updated_at`

// EnsureRecording inserts the recording or refreshes its title and video URL.
// An id owned by another org is left untouched and ErrRecordingConflict is
// returned.
func (s *PostgresStore) EnsureRecording(ctx context.Context, rec models.Recording) (models.Recording, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, ensureRecordingSQL,
		rec.ID, rec.OrgID, rec.Title, rec.VideoURL, models.IndexingPending,
	).Scan(&rec.VisualIndexingStatus, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Recording{}, fmt.Errorf("%s: %w", rec.ID, ErrRecordingConflict)
	}
	if err != nil {
		return models.Recording{}, fmt.Errorf("failed to upsert recording %s: %w", rec.ID, err)
	}
	return rec, nil
}

// SetVisualIndexingStatus updates the recording's visual indexing status.
func (s *PostgresStore) SetVisualIndexingStatus(ctx context.Context, recordingID string, status models.IndexingStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recordings SET visual_indexing_status = $2, updated_at = now() WHERE id = $1`,
		recordingID, status)
	if err != nil {
		return fmt.Errorf("failed to set indexing status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", recordingID, ErrRecordingNotFound)
	}
	return nil
}

const upsertFrameSQL = `
	INSERT INTO recording_frames
		(id, recording_id, frame_number, frame_time_sec, frame_url,
		 visual_description, ocr_text, visual_embedding, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	ON CONFLICT (recording_id, frame_number) DO UPDATE SET
		frame_time_sec = EXCLUDED.frame_time_sec,
		frame_url = EXCLUDED.frame_url,
		visual_description = COALESCE(EXCLUDED.visual_description, recording_frames.visual_description),
		ocr_text = COALESCE(EXCLUDED.ocr_text, recording_frames.ocr_text),
		visual_embedding = COALESCE(EXCLUDED.visual_embedding, recording_frames.visual_embedding),
		updated_at = now()`

// UpsertFrames writes frames keyed by (recording_id, frame_number) in one
// transaction. Nil optional fields keep whatever is stored; concurrent writers
// to the same frame are last-writer-wins.
func (s *PostgresStore) UpsertFrames(ctx context.Context, frames []models.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, f := range frames {
			id := f.ID
			if id == "" {
				id = uuid.NewString()
			}
			batch.Queue(upsertFrameSQL,
				id, f.RecordingID, f.FrameNumber, f.FrameTimeSec, f.FrameURL,
				f.VisualDescription, f.OCRText, vectorOrNil(f.VisualEmbedding))
		}

		results := tx.SendBatch(ctx, batch)
		for _, f := range frames {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to upsert frame %d of recording %s: %w", f.FrameNumber, f.RecordingID, err)
			}
		}
		return results.Close()
	})
}

// ListFramesMissingDescription returns frames of the recording, owned by
// orgID, that have no visual description yet, ordered by frame number.
func (s *PostgresStore) ListFramesMissingDescription(ctx context.Context, recordingID, orgID string) ([]models.Frame, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.recording_id, f.frame_number, f.frame_time_sec, f.frame_url, f.ocr_text
		FROM recording_frames f
		JOIN recordings r ON r.id = f.recording_id
		WHERE f.recording_id = $1
		  AND r.org_id = $2
		  AND f.visual_description IS NULL
		ORDER BY f.frame_number`,
		recordingID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	var frames []models.Frame
	for rows.Next() {
		var f models.Frame
		if err := rows.Scan(&f.ID, &f.RecordingID, &f.FrameNumber, &f.FrameTimeSec, &f.FrameURL, &f.OCRText); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// SetFrameVisualData stores a frame's description and its embedding together.
func (s *PostgresStore) SetFrameVisualData(ctx context.Context, frameID, description string, embedding []float32) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE recording_frames
		SET visual_description = $2, visual_embedding = $3, updated_at = now()
		WHERE id = $1`,
		frameID, description, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to store visual data for frame %s: %w", frameID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("frame %s not found", frameID)
	}
	return nil
}

// MatchHierarchical ranks documents on the 1536-dim summary embedding, keeps
// the top ones, then ranks chunks of each kept document on the 3072-dim chunk
// embedding. Rows come back best chunk first.
func (s *PostgresStore) MatchHierarchical(ctx context.Context, p models.HierarchicalParams) ([]models.HierarchicalRow, error) {
	rows, err := s.pool.Query(ctx, `
		WITH top_documents AS (
			SELECT d.id, d.recording_id,
			       1 - (d.summary_embedding <=> $1) AS document_similarity
			FROM documents d
			WHERE d.org_id = $3
			  AND ($4::text = '' OR d.recording_id = $4::text)
			  AND d.summary_embedding IS NOT NULL
			ORDER BY d.summary_embedding <=> $1
			LIMIT $5
		),
		ranked_chunks AS (
			SELECT c.id, c.document_id, c.content, c.chunk_index, c.start_time_sec,
			       td.recording_id, td.document_similarity,
			       1 - (c.embedding_high <=> $2) AS chunk_similarity,
			       ROW_NUMBER() OVER (PARTITION BY c.document_id ORDER BY c.embedding_high <=> $2) AS chunk_rank
			FROM document_chunks c
			JOIN top_documents td ON td.id = c.document_id
			WHERE c.embedding_high IS NOT NULL
		)
		SELECT rc.id, rc.document_id, rc.recording_id, COALESCE(r.title, ''),
		       rc.content, rc.chunk_index, rc.start_time_sec,
		       rc.document_similarity, rc.chunk_similarity
		FROM ranked_chunks rc
		LEFT JOIN recordings r ON r.id = rc.recording_id
		WHERE rc.chunk_rank <= $6
		  AND rc.chunk_similarity >= $7
		ORDER BY rc.chunk_similarity DESC`,
		pgvector.NewVector(p.EmbeddingLow),
		pgvector.NewVector(p.EmbeddingHigh),
		p.OrgID,
		p.RecordingID,
		p.TopDocuments,
		p.ChunksPerDocument,
		p.MatchThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run hierarchical match: %w", err)
	}
	defer rows.Close()

	var results []models.HierarchicalRow
	for rows.Next() {
		var r models.HierarchicalRow
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.RecordingID, &r.RecordingTitle,
			&r.Content, &r.ChunkIndex, &r.StartTimeSec,
			&r.DocumentSimilarity, &r.ChunkSimilarity); err != nil {
			return nil, fmt.Errorf("failed to scan hierarchical row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// MatchSummaries ranks document summaries on the 1536-dim embedding.
func (s *PostgresStore) MatchSummaries(ctx context.Context, p models.SummaryParams) ([]models.SummaryRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.recording_id, COALESCE(r.title, ''), d.summary,
		       1 - (d.summary_embedding <=> $1) AS similarity
		FROM documents d
		LEFT JOIN recordings r ON r.id = d.recording_id
		WHERE d.org_id = $2
		  AND d.summary_embedding IS NOT NULL
		  AND 1 - (d.summary_embedding <=> $1) >= $3
		ORDER BY d.summary_embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(p.Embedding), p.OrgID, p.MatchThreshold, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to match summaries: %w", err)
	}
	defer rows.Close()

	var results []models.SummaryRow
	for rows.Next() {
		var r models.SummaryRow
		if err := rows.Scan(&r.DocumentID, &r.RecordingID, &r.RecordingTitle, &r.Summary, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// MatchTranscripts ranks transcript chunks of the org on the 1536-dim embedding.
func (s *PostgresStore) MatchTranscripts(ctx context.Context, p models.TranscriptParams) ([]models.TranscriptRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, d.recording_id, COALESCE(r.title, ''), c.content, c.start_time_sec,
		       1 - (c.embedding_low <=> $1) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN recordings r ON r.id = d.recording_id
		WHERE d.org_id = $2
		  AND c.embedding_low IS NOT NULL
		ORDER BY c.embedding_low <=> $1
		LIMIT $3`,
		pgvector.NewVector(p.Embedding), p.OrgID, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to match transcripts: %w", err)
	}
	defer rows.Close()

	var results []models.TranscriptRow
	for rows.Next() {
		var r models.TranscriptRow
		if err := rows.Scan(&r.ChunkID, &r.RecordingID, &r.RecordingTitle, &r.Content, &r.StartTimeSec, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListVisualFrames returns every described and embedded frame of the org.
// Similarity is computed by the caller.
func (s *PostgresStore) ListVisualFrames(ctx context.Context, orgID string) ([]models.VisualFrameRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.recording_id, r.title, f.frame_time_sec, f.frame_url,
		       f.visual_description, f.ocr_text, f.visual_embedding
		FROM recording_frames f
		JOIN recordings r ON r.id = f.recording_id
		WHERE r.org_id = $1
		  AND f.visual_description IS NOT NULL
		  AND f.visual_embedding IS NOT NULL
		ORDER BY f.recording_id, f.frame_number`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list visual frames: %w", err)
	}
	defer rows.Close()

	var results []models.VisualFrameRow
	for rows.Next() {
		var (
			r   models.VisualFrameRow
			emb pgvector.Vector
		)
		if err := rows.Scan(&r.FrameID, &r.RecordingID, &r.RecordingTitle, &r.FrameTimeSec, &r.FrameURL,
			&r.VisualDescription, &r.OCRText, &emb); err != nil {
			return nil, fmt.Errorf("failed to scan visual frame: %w", err)
		}
		r.VisualEmbedding = emb.Slice()
		results = append(results, r)
	}
	return results, rows.Err()
}

// ReplaceDocument upserts a document with its summary embedding and replaces
// all of its chunks. Chunks are never updated in place.
func (s *PostgresStore) ReplaceDocument(ctx context.Context, doc models.Document, summaryEmbedding []float32, chunks []models.Chunk) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO documents (id, recording_id, org_id, summary, summary_embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (id) DO UPDATE SET
				recording_id = EXCLUDED.recording_id,
				org_id = EXCLUDED.org_id,
				summary = EXCLUDED.summary,
				summary_embedding = EXCLUDED.summary_embedding`,
			doc.ID, doc.RecordingID, doc.OrgID, doc.Summary, pgvector.NewVector(summaryEmbedding),
		); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, doc.ID); err != nil {
			return fmt.Errorf("failed to delete chunks of document %s: %w", doc.ID, err)
		}

		batch := &pgx.Batch{}
		for _, c := range chunks {
			id := c.ID
			if id == "" {
				id = uuid.NewString()
			}
			batch.Queue(`
				INSERT INTO document_chunks
					(id, document_id, chunk_index, content, start_time_sec, embedding_low, embedding_high)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				id, doc.ID, c.ChunkIndex, c.Content, c.StartTimeSec,
				pgvector.NewVector(c.EmbeddingLow), pgvector.NewVector(c.EmbeddingHigh))
		}
		results := tx.SendBatch(ctx, batch)
		for _, c := range chunks {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to insert chunk %d of document %s: %w", c.ChunkIndex, doc.ID, err)
			}
		}
		return results.Close()
	})
}

func vectorOrNil(v []float32) *pgvector.Vector {
	if v == nil {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

// InitSchema creates the extension, tables and indexes if they don't exist.
// It connects without the pgvector type registration because the extension
// may not exist yet.
func InitSchema(ctx context.Context, config PostgresConfig) error {
	conn, err := pgx.Connect(ctx, config.ConnString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			video_url TEXT NOT NULL DEFAULT '',
			visual_indexing_status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS recording_frames (
			id TEXT PRIMARY KEY,
			recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			frame_number INTEGER NOT NULL,
			frame_time_sec DOUBLE PRECISION NOT NULL,
			frame_url TEXT NOT NULL,
			visual_description TEXT,
			ocr_text TEXT,
			visual_embedding vector(1536),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(recording_id, frame_number)
		);

		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			org_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			summary_embedding vector(1536),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_time_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
			embedding_low vector(1536),
			embedding_high vector(3072),
			UNIQUE(document_id, chunk_index)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	// HNSW indexes are limited to 2000 dimensions, so embedding_high is
	// scanned only within the already narrowed documents.
	_, err = conn.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_recordings_org_id ON recordings(org_id);
		CREATE INDEX IF NOT EXISTS idx_documents_org_id ON documents(org_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);
		CREATE INDEX IF NOT EXISTS idx_documents_summary_embedding
			ON documents USING hnsw (summary_embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS idx_chunks_embedding_low
			ON document_chunks USING hnsw (embedding_low vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS idx_frames_visual_embedding
			ON recording_frames USING hnsw (visual_embedding vector_cosine_ops);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
