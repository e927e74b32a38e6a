package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const deadLetterColumns = `
	id, task_id, task_name, args, error, trace, retry_count, status,
	resolution_notes, resolved_by, resolved_at, failed_at`

func scanDeadLetter(row pgx.Row) (*DeadLetter, error) {
	var dl DeadLetter
	err := row.Scan(
		&dl.ID, &dl.TaskID, &dl.TaskName, &dl.Args, &dl.Error, &dl.Trace,
		&dl.RetryCount, &dl.Status,
		&dl.ResolutionNotes, &dl.ResolvedBy, &dl.ResolvedAt, &dl.FailedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

// InsertDeadLetter parks an exhausted task. Only the task substrate's
// failure hook creates dead letters; operator actions never do.
func (st *Store) InsertDeadLetter(ctx context.Context, dl *DeadLetter) error {
	_, err := st.pool.Exec(ctx, `
		INSERT INTO hookrelay.dead_letters(id, task_id, task_name, args, error, trace, retry_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'failed')`,
		dl.ID, dl.TaskID, dl.TaskName, dl.Args, dl.Error, dl.Trace, dl.RetryCount)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// GetDeadLetter loads one record by id.
func (st *Store) GetDeadLetter(ctx context.Context, id string) (*DeadLetter, error) {
	row := st.pool.QueryRow(ctx, `
		SELECT`+deadLetterColumns+`
		FROM hookrelay.dead_letters
		WHERE id = $1`, id)
	return scanDeadLetter(row)
}

// ListDeadLetters returns records newest-failure first, optionally
// filtered by status.
func (st *Store) ListDeadLetters(ctx context.Context, status string, limit, offset int) ([]DeadLetter, error) {
	args := []any{limit, offset}
	where := "1=1"
	if status != "" {
		where += " AND status = $3"
		args = append(args, status)
	}

	q := fmt.Sprintf(`
		SELECT`+deadLetterColumns+`
		FROM hookrelay.dead_letters
		WHERE %s
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2`, where)

	rows, err := st.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dl)
	}
	return out, rows.Err()
}

// transitionDeadLetter applies a conditional status transition. resolved
// and ignored are terminal, so the UPDATE only matches failed or retried
// rows. Zero rows means the record is missing or already terminal; the
// follow-up read distinguishes the two.
func (st *Store) transitionDeadLetter(ctx context.Context, id, query string, args ...any) (*DeadLetter, error) {
	row := st.pool.QueryRow(ctx, query, args...)
	dl, err := scanDeadLetter(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := st.GetDeadLetter(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("dead letter %s: %w", id, ErrConflict)
	}
	return dl, err
}

// ResolveDeadLetter transitions failed -> resolved with operator notes.
func (st *Store) ResolveDeadLetter(ctx context.Context, id, notes, resolvedBy string) (*DeadLetter, error) {
	return st.transitionDeadLetter(ctx, id, `
		UPDATE hookrelay.dead_letters
		SET status = 'resolved', resolution_notes = $2, resolved_by = $3, resolved_at = now()
		WHERE id = $1 AND status IN ('failed', 'retried')
		RETURNING`+deadLetterColumns,
		id, notes, resolvedBy)
}

// RetryDeadLetter transitions failed -> retried and counts the intent.
// It does not resubmit the original task; resubmission is a separate
// explicit action.
func (st *Store) RetryDeadLetter(ctx context.Context, id, resolvedBy string) (*DeadLetter, error) {
	return st.transitionDeadLetter(ctx, id, `
		UPDATE hookrelay.dead_letters
		SET status = 'retried', retry_count = retry_count + 1, resolved_by = $2, resolved_at = now()
		WHERE id = $1 AND status IN ('failed', 'retried')
		RETURNING`+deadLetterColumns,
		id, resolvedBy)
}

// IgnoreDeadLetter transitions failed -> ignored with operator notes.
func (st *Store) IgnoreDeadLetter(ctx context.Context, id, notes, resolvedBy string) (*DeadLetter, error) {
	return st.transitionDeadLetter(ctx, id, `
		UPDATE hookrelay.dead_letters
		SET status = 'ignored', resolution_notes = $2, resolved_by = $3, resolved_at = now()
		WHERE id = $1 AND status IN ('failed', 'retried')
		RETURNING`+deadLetterColumns,
		id, notes, resolvedBy)
}
