// Package database executes database_op actions as parameterised SQL.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/httpcall"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
	"github.com/lib/pq"
)

var ErrNoDatabase = errors.New("no database configured for database actions")

// Statement is a built SQL statement with its positional arguments.
type Statement struct {
	Query string
	Args  []any
}

type Adapter struct {
	db *sql.DB
}

// NewAdapter returns an adapter bound to db. A nil db fails every action as a
// configuration error.
func NewAdapter(db *sql.DB) *Adapter {
	return &Adapter{db: db}
}

func (a *Adapter) Execute(ctx context.Context, request registry.Request) (map[string]any, error) {
	config, ok := request.Config.(*models.DatabaseOpConfig)
	if !ok {
		return nil, models.ConfigurationError(fmt.Errorf("%w: %T", httpcall.ErrUnexpectedConfig, request.Config))
	}

	rows, err := a.Exec(ctx, config)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"operation":    string(config.Operation),
		"table":        config.Table,
		"rowsAffected": len(rows),
		"rows":         rows,
	}, nil
}

// Exec builds and runs the statement for config, returning the affected rows.
func (a *Adapter) Exec(ctx context.Context, config *models.DatabaseOpConfig) ([]map[string]any, error) {
	if a.db == nil {
		return nil, models.ConfigurationError(ErrNoDatabase)
	}

	statement, err := Build(config)
	if err != nil {
		return nil, models.ConfigurationError(err)
	}

	rows, err := a.db.QueryContext(ctx, statement.Query, statement.Args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRows(rows)
	if err != nil {
		return nil, classify(err)
	}

	return result, nil
}

// Build renders config as a PostgreSQL statement returning the affected rows.
func Build(config *models.DatabaseOpConfig) (Statement, error) {
	if !models.IsIdentifier(config.Table) {
		return Statement{}, fmt.Errorf("invalid table %q", config.Table)
	}

	b := &builder{}
	table := pq.QuoteIdentifier(config.Table)

	switch config.Operation {
	case models.DatabaseInsert:
		if len(config.Data) == 0 {
			return Statement{}, errors.New("insert requires data")
		}

		columns, values, err := b.values(config.Data)
		if err != nil {
			return Statement{}, err
		}

		b.sql.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			table, strings.Join(columns, ", "), strings.Join(values, ", ")))
	case models.DatabaseUpsert:
		if len(config.Data) == 0 || len(config.ConflictKeys) == 0 {
			return Statement{}, errors.New("upsert requires data and conflictKeys")
		}

		columns, values, err := b.values(config.Data)
		if err != nil {
			return Statement{}, err
		}

		keys := make([]string, 0, len(config.ConflictKeys))
		isKey := make(map[string]bool, len(config.ConflictKeys))

		for _, key := range config.ConflictKeys {
			if !models.IsIdentifier(key) {
				return Statement{}, fmt.Errorf("invalid conflict key %q", key)
			}

			keys = append(keys, pq.QuoteIdentifier(key))
			isKey[key] = true
		}

		updates := make([]string, 0, len(columns))

		for _, column := range sortedKeys(config.Data) {
			if !isKey[column] {
				quoted := pq.QuoteIdentifier(column)
				updates = append(updates, quoted+" = EXCLUDED."+quoted)
			}
		}

		action := "DO NOTHING"
		if len(updates) > 0 {
			action = "DO UPDATE SET " + strings.Join(updates, ", ")
		}

		b.sql.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s RETURNING *",
			table, strings.Join(columns, ", "), strings.Join(values, ", "), strings.Join(keys, ", "), action))
	case models.DatabaseUpdate:
		if len(config.Data) == 0 || len(config.Conditions) == 0 {
			return Statement{}, errors.New("update requires data and conditions")
		}

		columns, values, err := b.values(config.Data)
		if err != nil {
			return Statement{}, err
		}

		sets := make([]string, len(columns))
		for i := range columns {
			sets[i] = columns[i] + " = " + values[i]
		}

		where, err := b.where(config.Conditions)
		if err != nil {
			return Statement{}, err
		}

		b.sql.WriteString(fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *", table, strings.Join(sets, ", "), where))
	case models.DatabaseDelete:
		if len(config.Conditions) == 0 {
			return Statement{}, errors.New("delete requires conditions")
		}

		where, err := b.where(config.Conditions)
		if err != nil {
			return Statement{}, err
		}

		b.sql.WriteString(fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING *", table, where))
	default:
		return Statement{}, fmt.Errorf("unsupported operation %q", config.Operation)
	}

	return Statement{Query: b.sql.String(), Args: b.args}, nil
}

type builder struct {
	sql  strings.Builder
	args []any
}

func (b *builder) bind(value any) (string, error) {
	switch value.(type) {
	case map[string]any, []any:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", err
		}

		value = string(encoded)
	}

	b.args = append(b.args, value)

	return fmt.Sprintf("$%d", len(b.args)), nil
}

func (b *builder) values(data map[string]any) ([]string, []string, error) {
	columns := make([]string, 0, len(data))
	values := make([]string, 0, len(data))

	for _, column := range sortedKeys(data) {
		if !models.IsIdentifier(column) {
			return nil, nil, fmt.Errorf("invalid column %q", column)
		}

		placeholder, err := b.bind(data[column])
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", column, err)
		}

		columns = append(columns, pq.QuoteIdentifier(column))
		values = append(values, placeholder)
	}

	return columns, values, nil
}

func (b *builder) where(conditions map[string]any) (string, error) {
	clauses := make([]string, 0, len(conditions))

	for _, column := range sortedKeys(conditions) {
		if !models.IsIdentifier(column) {
			return "", fmt.Errorf("invalid condition column %q", column)
		}

		value := conditions[column]
		if value == nil {
			clauses = append(clauses, pq.QuoteIdentifier(column)+" IS NULL")

			continue
		}

		placeholder, err := b.bind(value)
		if err != nil {
			return "", fmt.Errorf("condition %s: %w", column, err)
		}

		clauses = append(clauses, pq.QuoteIdentifier(column)+" = "+placeholder)
	}

	return strings.Join(clauses, " AND "), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0)

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))

		for i, column := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[column] = string(raw)
			} else {
				row[column] = values[i]
			}
		}

		result = append(result, row)
	}

	return result, rows.Err()
}

// classify separates database failures worth retrying (lost connections,
// serialization conflicts, resource exhaustion) from statement errors.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return models.Transient(err)
	}

	switch pqErr.Code.Class() {
	case "08", "40", "53", "57":
		return models.Transient(err)
	default:
		return models.Permanent(err)
	}
}
