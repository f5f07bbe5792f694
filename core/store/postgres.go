// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/schemagate/core/csql"
	"github.com/relabs-tech/schemagate/core/logger"
)

var (
	collectionNamePattern = regexp.MustCompile(`^[a-z0-9_\-]{1,63}$`)
	fieldNamePattern      = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
)

// Postgres is a document store on top of postgres. Every collection is a table with
// the audit envelope as columns and the free-form properties as jsonb.
type Postgres struct {
	db *csql.DB
}

// NewPostgres returns a document store for the given database
func NewPostgres(db *csql.DB) *Postgres {
	return &Postgres{db: db}
}

// ValidCollectionName returns true if name can be used as collection name
func ValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name)
}

// sortIndexName returns the name of the created_at index of a collection. Postgres truncates
// identifiers to 63 bytes, so the name is derived from a hash of the collection name.
func sortIndexName(collection string) string {
	sum := sha256.Sum256([]byte(collection))
	return "sort_index_" + hex.EncodeToString(sum[:8]) + "_created_at"
}

// EnsureCollection implements Store. Concurrent creation of the same table may fail
// in postgres with a duplicate object error, which is treated as success.
func (p *Postgres) EnsureCollection(ctx context.Context, name string) error {
	if !ValidCollectionName(name) {
		return fmt.Errorf("invalid collection name '%s'", name)
	}
	schema := p.db.Schema
	query := fmt.Sprintf(`CREATE table IF NOT EXISTS "%s"."%s" (id uuid NOT NULL DEFAULT uuid_generate_v4() PRIMARY KEY, `+
		`created_at timestamp NOT NULL DEFAULT now(), `+
		`modified_at timestamp NOT NULL DEFAULT now(), `+
		`is_deleted boolean NOT NULL DEFAULT false, `+
		`deleted_at timestamp NULL, `+
		`properties jsonb NOT NULL DEFAULT '{}'::jsonb);`+
		`CREATE index IF NOT EXISTS "%s" ON "%s"."%s"(created_at);`,
		schema, name, sortIndexName(name), schema, name)

	_, err := p.db.ExecContext(ctx, query)
	if err != nil {
		var pqErr *pq.Error
		// 42P07 duplicate_table, 23505 unique_violation on pg_type during concurrent create
		if errors.As(err, &pqErr) && (pqErr.Code == "42P07" || pqErr.Code == "23505") {
			logger.FromContext(ctx).Debugln("collection created concurrently:", name)
			return nil
		}
		return fmt.Errorf("cannot create collection %s: %w", name, err)
	}
	return nil
}

// Collection implements Store
func (p *Postgres) Collection(name string) Collection {
	table := fmt.Sprintf(`"%s"."%s"`, p.db.Schema, name)
	return &postgresCollection{
		db:          p.db,
		name:        name,
		selectQuery: "SELECT id, created_at, modified_at, is_deleted, deleted_at, properties FROM " + table + " ",
		insertQuery: "INSERT INTO " + table + " (id, created_at, modified_at, properties) VALUES($1,$2,$3,$4);",
		lockQuery:   "SELECT properties FROM " + table + " WHERE id = $1 AND is_deleted = false FOR UPDATE;",
		updateQuery: "UPDATE " + table + " SET properties = $2, modified_at = $3 WHERE id = $1;",
		deleteQuery: "DELETE FROM " + table + " WHERE id = $1 AND is_deleted = false;",
		softQuery:   "UPDATE " + table + " SET is_deleted = true, deleted_at = $2, modified_at = $2 WHERE id = $1 AND is_deleted = false;",
	}
}

type postgresCollection struct {
	db          *csql.DB
	name        string
	selectQuery string
	insertQuery string
	lockQuery   string
	updateQuery string
	deleteQuery string
	softQuery   string
}

func (c *postgresCollection) Name() string {
	return c.name
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner) (*Document, error) {
	var (
		d          Document
		deletedAt  sql.NullTime
		properties []byte
	)
	err := row.Scan(&d.ID, &d.CreatedAt, &d.ModifiedAt, &d.IsDeleted, &deletedAt, &properties)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		d.DeletedAt = &t
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.ModifiedAt = d.ModifiedAt.UTC()
	d.Properties = map[string]interface{}{}
	if len(properties) > 0 {
		if err := json.Unmarshal(properties, &d.Properties); err != nil {
			return nil, fmt.Errorf("cannot parse properties: %w", err)
		}
	}
	return &d, nil
}

func (c *postgresCollection) Insert(ctx context.Context, properties map[string]interface{}) (*Document, error) {
	normalized, err := normalizeProperties(StripReserved(properties))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	// postgres stores timestamps with microsecond precision
	now := time.Now().UTC().Truncate(time.Microsecond)
	d := &Document{
		ID:         uuid.New(),
		CreatedAt:  now,
		ModifiedAt: now,
		Properties: normalized,
	}
	_, err = c.db.ExecContext(ctx, c.insertQuery, d.ID, d.CreatedAt, d.ModifiedAt, string(data))
	if err != nil {
		return nil, fmt.Errorf("cannot insert into %s: %w", c.name, err)
	}
	return d, nil
}

func (c *postgresCollection) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := scanDocument(c.db.QueryRowContext(ctx, c.selectQuery+"WHERE id = $1 AND is_deleted = false;", id))
	if err == csql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read from %s: %w", c.name, err)
	}
	return d, nil
}

// whereClause returns the where clause and the query parameters for filter
func whereClause(filter Filter) (string, []interface{}, error) {
	clause := "WHERE is_deleted = false"
	parameters := make([]interface{}, 0, len(filter))
	for i, condition := range filter {
		if !fieldNamePattern.MatchString(condition.Field) {
			return "", nil, fmt.Errorf("invalid filter field '%s'", condition.Field)
		}
		n := "$" + strconv.Itoa(i+1)
		if condition.FoldCase {
			clause += " AND lower(properties->>'" + condition.Field + "') = lower(" + n + ")"
		} else {
			clause += " AND properties->>'" + condition.Field + "' = " + n
		}
		parameters = append(parameters, condition.Value)
	}
	return clause, parameters, nil
}

func (c *postgresCollection) find(ctx context.Context, filter Filter, limit int) ([]Document, error) {
	where, parameters, err := whereClause(filter)
	if err != nil {
		return nil, err
	}
	query := c.selectQuery + where + " ORDER BY created_at ASC, id ASC"
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	rows, err := c.db.QueryContext(ctx, query+";", parameters...)
	if err != nil {
		return nil, fmt.Errorf("cannot query %s: %w", c.name, err)
	}
	defer rows.Close()
	result := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot scan %s: %w", c.name, err)
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (c *postgresCollection) FindOne(ctx context.Context, filter Filter) (*Document, error) {
	docs, err := c.find(ctx, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0], nil
}

func (c *postgresCollection) Find(ctx context.Context, filter Filter) ([]Document, error) {
	return c.find(ctx, filter, 0)
}

func (c *postgresCollection) Update(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("cannot begin transaction: %w", err)
	}
	var raw []byte
	err = tx.QueryRowContext(ctx, c.lockQuery, id).Scan(&raw)
	if err == csql.ErrNoRows {
		tx.Rollback()
		return false, ErrNotFound
	}
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("cannot lock %s in %s: %w", id, c.name, err)
	}
	current := map[string]interface{}{}
	if err = json.Unmarshal(raw, &current); err != nil {
		tx.Rollback()
		return false, fmt.Errorf("cannot parse properties: %w", err)
	}
	merged, changed, err := merge(current, patch)
	if err != nil || !changed {
		tx.Rollback()
		return false, err
	}
	data, err := json.Marshal(merged)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	_, err = tx.ExecContext(ctx, c.updateQuery, id, string(data), time.Now().UTC())
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("cannot update %s in %s: %w", id, c.name, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("cannot commit: %w", err)
	}
	return true, nil
}

func (c *postgresCollection) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("cannot delete from %s: %w", c.name, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (c *postgresCollection) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	return c.exec(ctx, c.deleteQuery, id)
}

func (c *postgresCollection) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	return c.exec(ctx, c.softQuery, id, time.Now().UTC())
}

