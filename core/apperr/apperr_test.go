package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemagate/core/schema"
)

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound("project %s not found", "shop").Write(rec)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"type":"NotFound","message":"project shop not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Invalid([]schema.Violation{{Field: "name", Rule: "required", Description: "name is required"}}).Write(rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Type   string             `json:"type"`
		Errors []schema.Violation `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, TypeBadRequest, body.Type)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "name", body.Errors[0].Field)
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("connection refused to 10.0.0.1")
	rec := httptest.NewRecorder()
	From(fmt.Errorf("cannot insert: %w", cause)).Write(rec)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
	assert.JSONEq(t, `{"type":"InternalError","message":"internal error"}`, rec.Body.String())
}

func TestFrom(t *testing.T) {
	e := BadRequest("invalid id")
	wrapped := fmt.Errorf("guard: %w", e)
	assert.Same(t, e, From(wrapped))

	internal := From(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.EqualError(t, errors.Unwrap(internal), "boom")
}
