package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/soyeahso/chatpulse/internal/domain"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/retry"
)

// Row maps column names to values. Values are converted for storage:
// times become fixed-width UTC text, bools become 0/1, Metadata and TagSet
// become JSON. A nil value (or nil pointer) is stored as NULL.
type Row map[string]any

// Expr is a raw SQL expression usable as an update value, e.g.
// Expr("retry_count + 1"). Never build one from user input.
type Expr string

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Writer performs single-row writes under a retry policy.
type Writer struct {
	exec    execer
	dialect dialect
	policy  retry.Policy
	log     *logging.Logger
}

// NewWriter creates a writer for db. Only MaxAttempts, Delay and Backoff are
// taken from policy; the retry predicate is always Retryable.
func NewWriter(db *DB, policy retry.Policy, log *logging.Logger) *Writer {
	return newWriter(db.sql, db.dialect, policy, log)
}

func newWriter(exec execer, d dialect, policy retry.Policy, log *logging.Logger) *Writer {
	return &Writer{
		exec:    exec,
		dialect: d,
		policy:  policy.WithRetryable(Retryable),
		log:     log.Sub("retry"),
	}
}

// Retryable reports whether a storage error is worth another attempt.
// Missing rows, bad input, unique conflicts and cancellation are final.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrDuplicate),
		domain.IsNotFound(err),
		domain.IsValidation(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// InsertWithRetry inserts row into table. A unique-constraint conflict
// returns an error wrapping domain.ErrDuplicate without retrying.
func (w *Writer) InsertWithRetry(ctx context.Context, table string, row Row) (Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, domain.NewValidationError(table, "empty insert")
	}

	cols := row.columns()
	for _, c := range cols {
		if err := checkIdent(c); err != nil {
			return nil, err
		}
	}

	query := w.dialect.rebind(fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)),
	))
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = bindValue(row[c])
	}

	attempts, err := retry.Do(ctx, w.policy, w.log, "insert "+table, func(ctx context.Context) error {
		_, err := w.exec.ExecContext(ctx, query, args...)
		if err != nil && w.dialect.isUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", table, domain.ErrDuplicate)
		}
		return err
	})
	if err != nil {
		return nil, wrapFailure("insert", table, attempts, err)
	}
	return row, nil
}

// UpdateWithRetry applies patch to the rows of table matching every column
// in match and returns the number of rows changed. A nil match value matches
// NULL. Zero matched rows is a *domain.NotFoundError and is not retried.
func (w *Writer) UpdateWithRetry(ctx context.Context, table string, patch, match Row) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, domain.NewValidationError(table, "empty update")
	}
	if len(match) == 0 {
		return 0, domain.NewValidationError(table, "update without match filter")
	}

	var (
		sets  []string
		where []string
		args  []any
	)
	for _, c := range patch.columns() {
		if err := checkIdent(c); err != nil {
			return 0, err
		}
		if expr, ok := patch[c].(Expr); ok {
			sets = append(sets, c+" = "+string(expr))
			continue
		}
		sets = append(sets, c+" = ?")
		args = append(args, bindValue(patch[c]))
	}
	for _, c := range match.columns() {
		if err := checkIdent(c); err != nil {
			return 0, err
		}
		v := bindValue(match[c])
		if v == nil {
			where = append(where, c+" IS NULL")
			continue
		}
		where = append(where, c+" = ?")
		args = append(args, v)
	}

	query := w.dialect.rebind(fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), strings.Join(where, " AND "),
	))

	var affected int64
	attempts, err := retry.Do(ctx, w.policy, w.log, "update "+table, func(ctx context.Context) error {
		res, err := w.exec.ExecContext(ctx, query, args...)
		if err != nil {
			if w.dialect.isUniqueViolation(err) {
				return fmt.Errorf("update %s: %w", table, domain.ErrDuplicate)
			}
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &domain.NotFoundError{Table: table, Match: map[string]any(match)}
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, wrapFailure("update", table, attempts, err)
	}
	return affected, nil
}

func wrapFailure(op, table string, attempts int, err error) error {
	if !Retryable(err) {
		return err
	}
	return &domain.PersistenceError{Op: op, Table: table, Attempts: attempts, Err: err}
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return domain.NewValidationError("identifier", fmt.Sprintf("invalid sql identifier %q", name))
	}
	return nil
}

func (r Row) columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func bindArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = bindValue(a)
	}
	return out
}

// bindValue converts domain values into driver-neutral column values.
func bindValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return formatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return formatTime(*x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case domain.Metadata:
		s, _ := x.Marshal()
		return s
	case domain.TagSet:
		s, _ := x.Marshal()
		return s
	case json.RawMessage:
		if len(x) == 0 {
			return nil
		}
		return string(x)
	case domain.Direction:
		return string(x)
	case domain.MessageStatus:
		return string(x)
	case domain.ContactStatus:
		return string(x)
	case domain.ConversationStatus:
		return string(x)
	default:
		return v
	}
}

// nullable stores "" as NULL so unique indexes ignore missing values.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
