// Package repository provides Postgres data access for webhook endpoints, deliveries,
// dead letters, conflicts, source authentications, merge records and analyses.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// jsonValue marshals v for a JSONB column. Passing v directly would make pgx send Go
// strings as raw JSON text.
func jsonValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb value: %w", err)
	}

	return raw, nil
}

// decodeJSONValue is the inverse of jsonValue; SQL NULL decodes to nil.
func decodeJSONValue(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal jsonb value: %w", err)
	}

	return v, nil
}

// filterBuilder collects WHERE conditions with positional arguments.
type filterBuilder struct {
	conditions []string
	args       []any
}

func (b *filterBuilder) add(condition string, arg any) {
	b.args = append(b.args, arg)
	b.conditions = append(b.conditions, fmt.Sprintf(condition, len(b.args)))
}

func (b *filterBuilder) addRaw(condition string) {
	b.conditions = append(b.conditions, condition)
}

func (b *filterBuilder) where() string {
	if len(b.conditions) == 0 {
		return ""
	}

	return " WHERE " + strings.Join(b.conditions, " AND ")
}

// paginate appends ORDER BY, LIMIT and OFFSET clauses to query.
func paginate(query string, args []any, orderBy string, limit, offset int) (string, []any) {
	query += " ORDER BY " + orderBy

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return query, args
}
