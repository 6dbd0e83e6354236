package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/albumforge/albumforge/internal/matcher"
	"github.com/albumforge/albumforge/internal/recognize"
	"github.com/albumforge/albumforge/internal/session"
)

// SessionStore is the PostgreSQL-backed session.Store. Every mutation is
// written through Save, so a restarted server can resume serving status and
// download requests for persisted sessions.
type SessionStore struct {
	pool *Pool
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore creates a session store over an existing pool.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (r *SessionStore) Create(ctx context.Context, s *session.Session) error {
	st := s.State()

	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)", st.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check session exists: %w", err)
	}
	if exists {
		return session.ErrExists
	}
	return r.write(ctx, st)
}

func (r *SessionStore) Get(ctx context.Context, id, ownerID string) (*session.Session, error) {
	st := session.State{}
	var results []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, step, status, error, work_dir, zip_path, build_seconds, results, created_at
		FROM sessions WHERE id = $1`, id).
		Scan(&st.ID, &st.OwnerID, &st.Step, &st.Status, &st.Error, &st.WorkDir,
			&st.ZipPath, &st.BuildSeconds, &results, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if st.OwnerID != ownerID {
		return nil, session.ErrForbidden
	}

	if len(results) > 0 {
		var res matcher.Results
		if err := json.Unmarshal(results, &res); err != nil {
			return nil, fmt.Errorf("decode session results: %w", err)
		}
		st.Results = &res
	}

	if st.People, err = r.loadPeople(ctx, id); err != nil {
		return nil, err
	}
	if st.EventPhotos, st.EventEmbeddings, err = r.loadEvents(ctx, id); err != nil {
		return nil, err
	}

	return session.Restore(st), nil
}

func (r *SessionStore) Save(ctx context.Context, s *session.Session) error {
	return r.write(ctx, s.State())
}

func (r *SessionStore) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if count == 0 {
		return session.ErrNotFound
	}
	return nil
}

// write upserts the full session state in one transaction. People and event
// rows are replaced wholesale; sessions are small and mutate rarely.
func (r *SessionStore) write(ctx context.Context, st session.State) error {
	var results any
	if st.Results != nil {
		data, err := json.Marshal(st.Results)
		if err != nil {
			return fmt.Errorf("encode session results: %w", err)
		}
		results = data
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, step, status, error, work_dir, zip_path, build_seconds, results, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			step = EXCLUDED.step,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			zip_path = EXCLUDED.zip_path,
			build_seconds = EXCLUDED.build_seconds,
			results = EXCLUDED.results,
			updated_at = NOW()`,
		st.ID, st.OwnerID, st.Step, st.Status, st.Error, st.WorkDir,
		st.ZipPath, st.BuildSeconds, results, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_people WHERE session_id = $1", st.ID); err != nil {
		return fmt.Errorf("clear session people: %w", err)
	}
	for name, person := range st.People {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_people (session_id, name, embedding, source_files)
			VALUES ($1, $2, $3, $4)`,
			st.ID, name, pgvector.NewVector(person.Embedding), pq.Array(person.SourceFiles))
		if err != nil {
			return fmt.Errorf("insert person %s: %w", name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_events WHERE session_id = $1", st.ID); err != nil {
		return fmt.Errorf("clear session events: %w", err)
	}
	for i, path := range st.EventPhotos {
		var emb any
		if vec, ok := st.EventEmbeddings[path]; ok {
			v := pgvector.NewVector(vec)
			emb = v
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_events (session_id, position, path, image_embedding)
			VALUES ($1, $2, $3, $4)`,
			st.ID, i, path, emb)
		if err != nil {
			return fmt.Errorf("insert event photo %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session write: %w", err)
	}
	return nil
}

// nullVector scans a nullable vector column.
type nullVector struct {
	vec   pgvector.Vector
	valid bool
}

func (n *nullVector) Scan(src any) error {
	if src == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.vec.Scan(src)
}

func (r *SessionStore) loadPeople(ctx context.Context, id string) (map[string]*recognize.Person, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT name, embedding, source_files FROM session_people WHERE session_id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("load session people: %w", err)
	}
	defer rows.Close()

	people := make(map[string]*recognize.Person)
	for rows.Next() {
		var name string
		var vec pgvector.Vector
		var sources pq.StringArray
		if err := rows.Scan(&name, &vec, &sources); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		people[name] = &recognize.Person{
			Name:        name,
			Embedding:   vec.Slice(),
			SourceFiles: []string(sources),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return people, nil
}

func (r *SessionStore) loadEvents(ctx context.Context, id string) ([]string, map[string][]float32, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT path, image_embedding FROM session_events
		WHERE session_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load session events: %w", err)
	}
	defer rows.Close()

	var paths []string
	embeddings := make(map[string][]float32)
	for rows.Next() {
		var path string
		var vec nullVector
		if err := rows.Scan(&path, &vec); err != nil {
			return nil, nil, fmt.Errorf("scan event photo: %w", err)
		}
		paths = append(paths, path)
		if vec.valid {
			embeddings[path] = vec.vec.Slice()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate event photos: %w", err)
	}
	return paths, embeddings, nil
}
