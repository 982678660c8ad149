// Package persistence implements the Persistence Layer (SPEC_FULL.md §4.7):
// a pgx-backed Store for Thread/Message/Part and their attached accounting
// rows, cursor pagination, and full-text search over a database-managed
// search vector.
//
// Layering follows the teacher's features/run/mongo pattern
// (Options{Client} -> Store{client} -> client interface -> document structs
// with from/to mapping -> withTimeout helper), translated to pgx/v5:
// Options{Pool} -> Store{pool} -> row structs with toThread/toMessage/toPart
// mapping methods -> withTimeout. Unlike the teacher's Mongo client, no
// separate client interface sits between Store and *pgxpool.Pool: there is
// a single pool (no read-replica routing to abstract over), and
// AppendMessage needs the pool's own Begin to get a transaction, so the
// indirection would have no second implementation to justify it.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"neuroagent/internal/thread"
)

const defaultOpTimeout = 10 * time.Second

// ErrThreadNotFound is returned when a Thread lookup by id finds nothing.
var ErrThreadNotFound = errors.New("persistence: thread not found")

// ErrNotOwner is returned when a Thread exists but belongs to a different
// user than the one making the request.
var ErrNotOwner = errors.New("persistence: thread belongs to a different user")

// Options configures the Store.
type Options struct {
	Pool *pgxpool.Pool

	// Timeout bounds each individual operation; defaults to 10s.
	Timeout time.Duration
}

// Store persists Threads, Messages, and their Parts and accounting rows.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New builds a Store backed by pool.
func New(opts Options) (*Store, error) {
	if opts.Pool == nil {
		return nil, errors.New("persistence: pool is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{pool: opts.Pool, timeout: timeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// CreateThread inserts t.
func (s *Store) CreateThread(ctx context.Context, t thread.Thread) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO threads (thread_id, user_id, vlab_id, project_id, title, creation_date, update_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ThreadID, t.UserID, t.VLabID, t.ProjectID, t.Title, t.CreationDate, t.UpdateDate)
	if err != nil {
		return fmt.Errorf("persistence: create thread: %w", err)
	}
	return nil
}

// GetThread loads a Thread by id, verifying userID owns it.
func (s *Store) GetThread(ctx context.Context, threadID uuid.UUID, userID string) (thread.Thread, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var row threadRow
	err := s.pool.QueryRow(ctx, `
		SELECT thread_id, user_id, vlab_id, project_id, title, creation_date, update_date
		FROM threads WHERE thread_id = $1`, threadID).Scan(
		&row.ThreadID, &row.UserID, &row.VLabID, &row.ProjectID, &row.Title, &row.CreationDate, &row.UpdateDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return thread.Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return thread.Thread{}, fmt.Errorf("persistence: get thread: %w", err)
	}
	if row.UserID != userID {
		return thread.Thread{}, ErrNotOwner
	}
	return row.toThread(), nil
}

// UpdateThreadTitle renames a Thread and bumps its update_date.
func (s *Store) UpdateThreadTitle(ctx context.Context, threadID uuid.UUID, title string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
		UPDATE threads SET title = $1, update_date = $2 WHERE thread_id = $3`,
		title, time.Now().UTC(), threadID)
	if err != nil {
		return fmt.Errorf("persistence: update thread title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// TouchThread bumps update_date, called whenever a new Message is appended.
func (s *Store) TouchThread(ctx context.Context, threadID uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `UPDATE threads SET update_date = $1 WHERE thread_id = $2`,
		time.Now().UTC(), threadID)
	if err != nil {
		return fmt.Errorf("persistence: touch thread: %w", err)
	}
	return nil
}

// Cursor identifies a pagination position: the sort column's value paired
// with the id tie-break, per SPEC_FULL.md §4.7's row-value comparison
// pagination.
type Cursor struct {
	SortValue time.Time
	ID        uuid.UUID
}

// Page is one page of results plus whether another page follows.
type Page[T any] struct {
	Items   []T
	HasMore bool
}

// ListThreads returns userID's threads ordered by update_date descending,
// optionally scoped to a vlab/project pair, requesting pageSize+1 rows and
// trimming the extra one to compute HasMore (grounded in
// features/run/mongo/search/repository.go's Sessions/Failures pattern).
func (s *Store) ListThreads(ctx context.Context, userID string, vlabID, projectID *uuid.UUID, after *Cursor, pageSize int) (Page[thread.Thread], error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := []any{userID}
	query := `SELECT thread_id, user_id, vlab_id, project_id, title, creation_date, update_date
		FROM threads WHERE user_id = $1`
	if vlabID != nil {
		args = append(args, *vlabID)
		query += fmt.Sprintf(" AND vlab_id = $%d", len(args))
	}
	if projectID != nil {
		args = append(args, *projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if after != nil {
		args = append(args, after.SortValue, after.ID)
		query += fmt.Sprintf(" AND (update_date, thread_id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, pageSize+1)
	query += fmt.Sprintf(" ORDER BY update_date DESC, thread_id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page[thread.Thread]{}, fmt.Errorf("persistence: list threads: %w", err)
	}
	defer rows.Close()

	var out []thread.Thread
	for rows.Next() {
		var row threadRow
		if err := rows.Scan(&row.ThreadID, &row.UserID, &row.VLabID, &row.ProjectID, &row.Title, &row.CreationDate, &row.UpdateDate); err != nil {
			return Page[thread.Thread]{}, fmt.Errorf("persistence: scan thread: %w", err)
		}
		out = append(out, row.toThread())
	}
	if err := rows.Err(); err != nil {
		return Page[thread.Thread]{}, fmt.Errorf("persistence: list threads: %w", err)
	}

	hasMore := len(out) > pageSize
	if hasMore {
		out = out[:pageSize]
	}
	return Page[thread.Thread]{Items: out, HasMore: hasMore}, nil
}

// DeleteThread removes a Thread and, via ON DELETE CASCADE, every Message,
// Part, and accounting row attached to it. It returns the ids of Messages
// that existed, so the caller can orchestrate the external-storage purge
// (SPEC_FULL.md §4.7) after this call returns — that purge is
// non-transactional and happens outside the DB, never inside this method.
func (s *Store) DeleteThread(ctx context.Context, threadID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT message_id FROM messages WHERE thread_id = $1`, threadID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list messages before delete: %w", err)
	}
	var messageIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("persistence: scan message id: %w", err)
		}
		messageIDs = append(messageIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: list messages before delete: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE thread_id = $1`, threadID)
	if err != nil {
		return nil, fmt.Errorf("persistence: delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrThreadNotFound
	}
	return messageIDs, nil
}

// AppendMessage persists msg and every Part/TokenConsumptionRecord/
// ToolSelectionRecord/ComplexityEstimation attached to it, in one
// transaction, using ON CONFLICT DO NOTHING on the message and part rows so
// repeated calls against the same reopened (incomplete) Message only insert
// the Parts added since the previous call. Tool-selection and token rows
// have no conflict clause: every record in msg is inserted.
func (s *Store) AppendMessage(ctx context.Context, msg thread.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (message_id, thread_id, entity, creation_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING`,
		msg.MessageID, msg.ThreadID, string(msg.Entity), msg.CreationDate)
	if err != nil {
		return fmt.Errorf("persistence: insert message: %w", err)
	}

	for _, p := range msg.Parts {
		_, err = tx.Exec(ctx, `
			INSERT INTO parts (part_id, message_id, order_index, type, output, is_complete, validated, creation_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (part_id) DO NOTHING`,
			p.PartID, p.MessageID, p.OrderIndex, string(p.Type), p.Output, p.IsComplete, p.Validated, p.CreationDate)
		if err != nil {
			return fmt.Errorf("persistence: insert part: %w", err)
		}
	}

	for _, r := range msg.ToolSelections {
		_, err = tx.Exec(ctx, `
			INSERT INTO tool_selection (message_id, tool_name) VALUES ($1, $2)`,
			r.MessageID, r.ToolName)
		if err != nil {
			return fmt.Errorf("persistence: insert tool selection: %w", err)
		}
	}

	for _, r := range msg.TokenConsumption {
		_, err = tx.Exec(ctx, `
			INSERT INTO token_consumption (message_id, type, task, count, model) VALUES ($1, $2, $3, $4, $5)`,
			r.MessageID, string(r.Type), string(r.Task), r.Count, r.Model)
		if err != nil {
			return fmt.Errorf("persistence: insert token consumption: %w", err)
		}
	}

	if msg.Complexity != nil {
		c := msg.Complexity
		var reasoning *string
		if c.Reasoning != nil {
			v := string(*c.Reasoning)
			reasoning = &v
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO complexity_estimation (message_id, complexity, model, reasoning)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id) DO UPDATE SET complexity = EXCLUDED.complexity, reasoning = EXCLUDED.reasoning`,
			c.MessageID, c.Complexity, c.Model, reasoning)
		if err != nil {
			return fmt.Errorf("persistence: insert complexity estimation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persistence: commit append message: %w", err)
	}
	return nil
}

// ListMessages returns a Thread's Messages (each with its Parts loaded) in
// creation order, with the same limit+1/trim pagination as ListThreads.
func (s *Store) ListMessages(ctx context.Context, threadID uuid.UUID, after *Cursor, pageSize int) (Page[thread.Message], error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	args := []any{threadID}
	query := `SELECT message_id, thread_id, entity, creation_date FROM messages WHERE thread_id = $1`
	if after != nil {
		args = append(args, after.SortValue, after.ID)
		query += fmt.Sprintf(" AND (creation_date, message_id) > ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, pageSize+1)
	query += fmt.Sprintf(" ORDER BY creation_date ASC, message_id ASC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page[thread.Message]{}, fmt.Errorf("persistence: list messages: %w", err)
	}
	var messages []thread.Message
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(&row.MessageID, &row.ThreadID, &row.Entity, &row.CreationDate); err != nil {
			rows.Close()
			return Page[thread.Message]{}, fmt.Errorf("persistence: scan message: %w", err)
		}
		messages = append(messages, row.toMessage())
	}
	closeErr := rows.Err()
	rows.Close()
	if closeErr != nil {
		return Page[thread.Message]{}, fmt.Errorf("persistence: list messages: %w", closeErr)
	}

	hasMore := len(messages) > pageSize
	if hasMore {
		messages = messages[:pageSize]
	}

	for i := range messages {
		parts, err := s.loadParts(ctx, messages[i].MessageID)
		if err != nil {
			return Page[thread.Message]{}, err
		}
		messages[i].Parts = parts
	}

	return Page[thread.Message]{Items: messages, HasMore: hasMore}, nil
}

func (s *Store) loadParts(ctx context.Context, messageID uuid.UUID) ([]thread.Part, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT part_id, message_id, order_index, type, output, is_complete, validated, creation_date
		FROM parts WHERE message_id = $1 ORDER BY order_index ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list parts: %w", err)
	}
	defer rows.Close()

	var parts []thread.Part
	for rows.Next() {
		var row partRow
		if err := rows.Scan(&row.PartID, &row.MessageID, &row.OrderIndex, &row.Type, &row.Output, &row.IsComplete, &row.Validated, &row.CreationDate); err != nil {
			return nil, fmt.Errorf("persistence: scan part: %w", err)
		}
		parts = append(parts, row.toPart())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: list parts: %w", err)
	}
	return parts, nil
}

// ListToolSelections returns the Tool Filter's admitted tool set for a given
// Message, in insertion order. Used on HIL resume (spec.md §4.2): the
// previous selection is reloaded rather than re-running the filter.
func (s *Store) ListToolSelections(ctx context.Context, messageID uuid.UUID) ([]thread.ToolSelectionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, tool_name FROM tool_selection WHERE message_id = $1 ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list tool selections: %w", err)
	}
	defer rows.Close()

	var records []thread.ToolSelectionRecord
	for rows.Next() {
		var r thread.ToolSelectionRecord
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ToolName); err != nil {
			return nil, fmt.Errorf("persistence: scan tool selection: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: list tool selections: %w", err)
	}
	return records, nil
}

// SearchResult is one row of a full-text search hit: the thread it
// belongs to and the single top-ranked matching message's text excerpt.
type SearchResult struct {
	ThreadID  uuid.UUID
	MessageID uuid.UUID
	Title     string
	Snippet   string
}

// SearchThreads performs cross-thread full-text search scoped to userID,
// using the database-managed search_vector column on messages
// (SPEC_FULL.md §4.7): one top-ranked message per thread via
// DISTINCT ON (thread_id) ... ORDER BY thread_id, ts_rank(...) DESC.
func (s *Store) SearchThreads(ctx context.Context, userID, query string) ([]SearchResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (m.thread_id)
			m.thread_id, m.message_id, t.title,
			ts_headline('english', m.search_vector::text, plainto_tsquery('english', $2))
		FROM messages m
		JOIN threads t ON t.thread_id = m.thread_id
		WHERE t.user_id = $1 AND m.search_vector @@ plainto_tsquery('english', $2)
		ORDER BY m.thread_id, ts_rank(m.search_vector, plainto_tsquery('english', $2)) DESC`,
		userID, query)
	if err != nil {
		return nil, fmt.Errorf("persistence: search threads: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ThreadID, &r.MessageID, &r.Title, &r.Snippet); err != nil {
			return nil, fmt.Errorf("persistence: scan search result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: search threads: %w", err)
	}
	return out, nil
}

// SearchMessages full-text-searches within a single Thread, every matching
// message ranked by relevance (the within-thread counterpart to
// SearchThreads, used by the thread-scoped search endpoint).
func (s *Store) SearchMessages(ctx context.Context, threadID uuid.UUID, query string) ([]SearchResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT m.thread_id, m.message_id, t.title,
			ts_headline('english', m.search_vector::text, plainto_tsquery('english', $2))
		FROM messages m
		JOIN threads t ON t.thread_id = m.thread_id
		WHERE m.thread_id = $1 AND m.search_vector @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(m.search_vector, plainto_tsquery('english', $2)) DESC`,
		threadID, query)
	if err != nil {
		return nil, fmt.Errorf("persistence: search messages: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ThreadID, &r.MessageID, &r.Title, &r.Snippet); err != nil {
			return nil, fmt.Errorf("persistence: scan search result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: search messages: %w", err)
	}
	return out, nil
}

type threadRow struct {
	ThreadID     uuid.UUID
	UserID       string
	VLabID       *uuid.UUID
	ProjectID    *uuid.UUID
	Title        string
	CreationDate time.Time
	UpdateDate   time.Time
}

func (r threadRow) toThread() thread.Thread {
	return thread.Thread{
		ThreadID:     r.ThreadID,
		UserID:       r.UserID,
		VLabID:       r.VLabID,
		ProjectID:    r.ProjectID,
		Title:        r.Title,
		CreationDate: r.CreationDate,
		UpdateDate:   r.UpdateDate,
	}
}

type messageRow struct {
	MessageID    uuid.UUID
	ThreadID     uuid.UUID
	Entity       string
	CreationDate time.Time
}

func (r messageRow) toMessage() thread.Message {
	return thread.Message{
		MessageID:    r.MessageID,
		ThreadID:     r.ThreadID,
		Entity:       thread.Entity(r.Entity),
		CreationDate: r.CreationDate,
	}
}

type partRow struct {
	PartID       uuid.UUID
	MessageID    uuid.UUID
	OrderIndex   int
	Type         string
	Output       []byte
	IsComplete   bool
	Validated    *bool
	CreationDate time.Time
}

func (r partRow) toPart() thread.Part {
	return thread.Part{
		PartID:       r.PartID,
		MessageID:    r.MessageID,
		OrderIndex:   r.OrderIndex,
		Type:         thread.PartType(r.Type),
		Output:       r.Output,
		IsComplete:   r.IsComplete,
		Validated:    r.Validated,
		CreationDate: r.CreationDate,
	}
}
