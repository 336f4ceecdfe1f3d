package db

import (
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a single-row INSERT ... ON CONFLICT statement.
type UpsertConfig struct {
	Table        string   // optionally schema-qualified
	Columns      []string // in argument order
	ConflictKeys []string // the unique constraint
	UpdateCols   []string // nil updates every non-key column
	Returning    []string
}

// UpsertSQL renders cfg with $n placeholders in column order. With nothing
// to update the statement is DO NOTHING.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	switch {
	case len(cfg.Columns) == 0:
		return "", eris.New("db: upsert: no columns specified")
	case len(cfg.ConflictKeys) == 0:
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	update := cfg.UpdateCols
	if update == nil {
		for _, c := range cfg.Columns {
			if !slices.Contains(cfg.ConflictKeys, c) {
				update = append(update, c)
			}
		}
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sanitizeTable(cfg.Table))
	b.WriteString(" (")
	b.WriteString(quoteAndJoin(cfg.Columns))
	b.WriteString(") VALUES (")
	for i := range cfg.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$" + strconv.Itoa(i+1))
	}
	b.WriteString(") ON CONFLICT (")
	b.WriteString(quoteAndJoin(cfg.ConflictKeys))
	b.WriteString(") ")

	if len(update) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		for i, c := range update {
			if i > 0 {
				b.WriteString(", ")
			}
			id := quote(c)
			b.WriteString(id + " = EXCLUDED." + id)
		}
	}

	if len(cfg.Returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(quoteAndJoin(cfg.Returning))
	}
	return b.String(), nil
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// sanitizeTable quotes a table name, splitting "schema.table".
func sanitizeTable(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

func quoteAndJoin(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quote(id)
	}
	return strings.Join(quoted, ", ")
}
