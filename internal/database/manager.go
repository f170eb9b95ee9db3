package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "lectern/pkg/database"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

const (
	defaultRetryDelay   = 5 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// Manager implements interfaces.Store on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	feed         *questionFeed
	retryDelay   time.Duration
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the embedded migrations and starts
// the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		shutdown:     make(chan struct{}),
		feed:         newQuestionFeed(),
		retryDelay:   defaultRetryDelay,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && isRetryable(err) {
				log.Printf("Database write failed, retrying in %v: %v", m.retryDelay, err)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// isRetryable reports whether a second attempt could succeed. Constraint
// violations and cancelled contexts will fail the same way again.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
	}
	return true
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(defaultWriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrShuttingDown
	}

	// A queued operation is never picked up once the writer has exited.
	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		select {
		case err := <-result:
			return err
		default:
			return ErrShuttingDown
		}
	}
}

// CreateSession inserts a new session row
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO sessions (id, status, created_at) VALUES (?, ?, ?)`,
			session.ID, session.Status, session.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, status, created_at, ended_at FROM sessions WHERE id = ?`, sessionID)

	var session types.Session
	var endedAt sql.NullTime
	err := row.Scan(&session.ID, &session.Status, &session.CreatedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	return &session, nil
}

// UpdateSessionStatus sets the status; closing also stamps ended_at.
func (m *Manager) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		var endedAt interface{}
		if status == types.SessionStatusClosed {
			endedAt = time.Now().UTC()
		}

		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
			status, endedAt, sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// CloseStaleSessions closes sessions a previous process left active.
func (m *Manager) CloseStaleSessions(ctx context.Context) (int64, error) {
	var closed int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = ? WHERE status = ?`,
			types.SessionStatusClosed, time.Now().UTC(), types.SessionStatusActive,
		)
		if err != nil {
			return fmt.Errorf("failed to close stale sessions: %w", err)
		}
		closed, _ = res.RowsAffected()
		return nil
	})
	return closed, err
}

// AddQuestion appends a question and notifies subscribers once committed.
func (m *Manager) AddQuestion(ctx context.Context, sessionID string, q *types.Question) error {
	optionsJSON, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	q.SessionID = sessionID
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO questions (id, session_id, question_text, options, correct_answer, generated_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			q.ID, sessionID, q.Text, string(optionsJSON), q.CorrectAnswer, q.GeneratedBy, q.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert question: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit question: %w", err)
		}

		m.feed.publish(q)
		return nil
	})
}

const questionColumns = `id, session_id, question_text, options, correct_answer, generated_by, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (*types.Question, error) {
	var q types.Question
	var optionsJSON string
	if err := row.Scan(&q.ID, &q.SessionID, &q.Text, &optionsJSON, &q.CorrectAnswer, &q.GeneratedBy, &q.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(optionsJSON), &q.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return &q, nil
}

// GetQuestion loads a question belonging to sessionID
func (m *Manager) GetQuestion(ctx context.Context, sessionID, questionID string) (*types.Question, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ? AND session_id = ?`,
		questionID, sessionID)

	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("failed to query question: %w", err)
	}
	return q, nil
}

// ListQuestions returns every question of a session in insertion order
func (m *Manager) ListQuestions(ctx context.Context, sessionID string) ([]*types.Question, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	questions := make([]*types.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question row: %w", err)
		}
		questions = append(questions, q)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating question rows: %w", err)
	}

	return questions, nil
}

// RecordAnswer stores a graded answer
func (m *Manager) RecordAnswer(ctx context.Context, answer *types.Answer) error {
	if answer.AnsweredAt.IsZero() {
		answer.AnsweredAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO answers (id, session_id, question_id, connection_id, selected_option, correct, answered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			answer.ID, answer.SessionID, answer.QuestionID, answer.ConnectionID,
			answer.SelectedOption, answer.Correct, answer.AnsweredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert answer: %w", err)
		}
		return nil
	})
}

// CountAnswers returns how many answers were recorded for a question.
func (m *Manager) CountAnswers(ctx context.Context, questionID string) (total, correct int, err error) {
	err = m.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(correct), 0) FROM answers WHERE question_id = ?`, questionID,
	).Scan(&total, &correct)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count answers: %w", err)
	}
	return total, correct, nil
}

// SubscribeToNewQuestions registers onAdded for questions committed after
// this call returns.
func (m *Manager) SubscribeToNewQuestions(sessionID string, onAdded func(*types.Question)) (interfaces.CancelFunc, error) {
	return m.feed.subscribe(sessionID, onAdded)
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer, ends subscriptions and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	m.feed.closeAll()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
