// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemagate/core/csql"
)

var documentColumns = []string{"id", "created_at", "modified_at", "is_deleted", "deleted_at", "properties"}

func setupPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPostgres(&csql.DB{DB: db, Schema: "test"}), mock, db
}

func TestPostgres_EnsureCollection(t *testing.T) {
	p, mock, db := setupPostgres(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("creates table", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`CREATE table IF NOT EXISTS "test"."shop_users"`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, p.EnsureCollection(ctx, "shop_users"))
	})

	t.Run("tolerates concurrent creation", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`CREATE table IF NOT EXISTS "test"."shop_users"`)).
			WillReturnError(&pq.Error{Code: "23505"})
		require.NoError(t, p.EnsureCollection(ctx, "shop_users"))
	})

	t.Run("reports other errors", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`CREATE table IF NOT EXISTS "test"."shop_users"`)).
			WillReturnError(&pq.Error{Code: "42501"})
		require.Error(t, p.EnsureCollection(ctx, "shop_users"))
	})

	t.Run("index name stays within identifier limit", func(t *testing.T) {
		long := strings.Repeat("a", 55)
		mock.ExpectExec(regexp.QuoteMeta(`CREATE index IF NOT EXISTS "` + sortIndexName(long+"_one") + `" ON "test"."` + long + `_one"(created_at);`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, p.EnsureCollection(ctx, long+"_one"))

		one, two := sortIndexName(long+"_one"), sortIndexName(long+"_two")
		assert.NotEqual(t, one, two)
		assert.LessOrEqual(t, len(one), 63)
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		require.Error(t, p.EnsureCollection(ctx, `shop"; DROP TABLE x; --`))
		require.Error(t, p.EnsureCollection(ctx, ""))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertAndGet(t *testing.T) {
	p, mock, db := setupPostgres(t)
	defer db.Close()
	ctx := context.Background()
	c := p.Collection("shop_users")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "test"."shop_users" (id, created_at, modified_at, properties) VALUES($1,$2,$3,$4);`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), `{"a":1}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := c.Insert(ctx, map[string]interface{}{"a": 1, "createdAt": "spoofed"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.UUID{}, created.ID)
	assert.Equal(t, float64(1), created.Properties["a"])
	assert.NotContains(t, created.Properties, "createdAt")

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, created_at, modified_at, is_deleted, deleted_at, properties FROM "test"."shop_users" WHERE id = $1 AND is_deleted = false;`)).
		WithArgs(created.ID).
		WillReturnRows(sqlmock.NewRows(documentColumns).AddRow(created.ID.String(), now, now, false, nil, []byte(`{"a":1}`)))

	read, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, read.ID)
	assert.Equal(t, float64(1), read.Properties["a"])
	assert.Nil(t, read.DeletedAt)

	missing := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 AND is_deleted = false;`)).
		WithArgs(missing).
		WillReturnRows(sqlmock.NewRows(documentColumns))
	_, err = c.Get(ctx, missing)
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindWithFilter(t *testing.T) {
	p, mock, db := setupPostgres(t)
	defer db.Close()
	ctx := context.Background()
	c := p.Collection("projects")
	now := time.Now().UTC()
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "test"."projects" WHERE is_deleted = false AND lower(properties->>'name') = lower($1) ORDER BY created_at ASC, id ASC LIMIT 1;`)).
		WithArgs("SHOP").
		WillReturnRows(sqlmock.NewRows(documentColumns).AddRow(id.String(), now, now, false, nil, []byte(`{"name":"shop"}`)))

	d, err := c.FindOne(ctx, Filter{EqFold("name", "SHOP")})
	require.NoError(t, err)
	assert.Equal(t, id, d.ID)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "test"."projects" WHERE is_deleted = false AND properties->>'organizationId' = $1 ORDER BY created_at ASC, id ASC;`)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(documentColumns))

	docs, err := c.Find(ctx, Filter{Eq("organizationId", "o1")})
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Len(t, docs, 0)

	_, err = c.Find(ctx, Filter{Eq("name'--", "x")})
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Update(t *testing.T) {
	p, mock, db := setupPostgres(t)
	defer db.Close()
	ctx := context.Background()
	c := p.Collection("shop_users")
	id := uuid.New()
	lock := regexp.QuoteMeta(`SELECT properties FROM "test"."shop_users" WHERE id = $1 AND is_deleted = false FOR UPDATE;`)

	t.Run("modified", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"properties"}).AddRow([]byte(`{"a":1}`)))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "test"."shop_users" SET properties = $2, modified_at = $3 WHERE id = $1;`)).
			WithArgs(id, `{"a":2}`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		modified, err := c.Update(ctx, id, map[string]interface{}{"a": 2})
		require.NoError(t, err)
		assert.True(t, modified)
	})

	t.Run("not modified", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"properties"}).AddRow([]byte(`{"a":1}`)))
		mock.ExpectRollback()

		modified, err := c.Update(ctx, id, map[string]interface{}{"a": 1})
		require.NoError(t, err)
		assert.False(t, modified)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lock).WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"properties"}))
		mock.ExpectRollback()

		_, err := c.Update(ctx, id, map[string]interface{}{"a": 1})
		assert.Equal(t, ErrNotFound, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Delete(t *testing.T) {
	p, mock, db := setupPostgres(t)
	defer db.Close()
	ctx := context.Background()
	c := p.Collection("shop_users")
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "test"."shop_users" WHERE id = $1 AND is_deleted = false;`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	deleted, err := c.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "test"."shop_users" SET is_deleted = true`)).
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	deleted, err = c.SoftDelete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}
