/*
Package store provides a generic document store over named collections.

Every document is a free-form JSON object wrapped in a fixed audit envelope:

	{
		"id": UUID,
		"createdAt": TIMESTAMP,
		"modifiedAt": TIMESTAMP,
		"isDeleted": BOOLEAN,
		"deletedAt": TIMESTAMP or null,
		... properties
	}

Soft deleted documents are invisible to all read operations.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

// names of the audit envelope fields
const (
	FieldID         = "id"
	FieldCreatedAt  = "createdAt"
	FieldModifiedAt = "modifiedAt"
	FieldIsDeleted  = "isDeleted"
	FieldDeletedAt  = "deletedAt"
)

var reservedFields = []string{FieldID, FieldCreatedAt, FieldModifiedAt, FieldIsDeleted, FieldDeletedAt}

// Store is a document store with named collections
type Store interface {
	// EnsureCollection creates the named collection if it does not exist yet.
	// It is idempotent and safe for concurrent use.
	EnsureCollection(ctx context.Context, name string) error
	// Collection returns a handle for the named collection
	Collection(name string) Collection
}

// Collection is a handle to a named collection of documents
type Collection interface {
	Name() string
	// Insert stores a new document and returns it with its envelope
	Insert(ctx context.Context, properties map[string]interface{}) (*Document, error)
	// Get returns the document with the given id or ErrNotFound
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	// FindOne returns the first document matching filter or ErrNotFound
	FindOne(ctx context.Context, filter Filter) (*Document, error)
	// Find returns all documents matching filter in creation order. It never returns nil.
	Find(ctx context.Context, filter Filter) ([]Document, error)
	// Update merges patch into the document's properties. It returns ErrNotFound if there is
	// no such document and modified=false if the merge did not change anything.
	Update(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (modified bool, err error)
	// Delete removes a document. It returns false if there was no such document.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// SoftDelete flags a document as deleted. It returns false if there was no such document.
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
}

// Document is a stored document
type Document struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	ModifiedAt time.Time
	IsDeleted  bool
	DeletedAt  *time.Time
	Properties map[string]interface{}
}

// Object returns the flat JSON object representation of the document
func (d Document) Object() map[string]interface{} {
	object := make(map[string]interface{}, len(d.Properties)+len(reservedFields))
	for key, value := range d.Properties {
		object[key] = value
	}
	object[FieldID] = d.ID.String()
	object[FieldCreatedAt] = d.CreatedAt
	object[FieldModifiedAt] = d.ModifiedAt
	object[FieldIsDeleted] = d.IsDeleted
	object[FieldDeletedAt] = d.DeletedAt
	return object
}

// MarshalJSON marshals the document as flat JSON object
func (d Document) MarshalJSON() ([]byte, error) {
	return json.MarshalWithOption(d.Object(), json.DisableHTMLEscape())
}

// Decode decodes the document's properties into v. The document id is available as "id".
func (d Document) Decode(v interface{}) error {
	properties := make(map[string]interface{}, len(d.Properties)+1)
	for key, value := range d.Properties {
		properties[key] = value
	}
	properties[FieldID] = d.ID.String()
	data, err := json.Marshal(properties)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// StripReserved returns a copy of properties without the audit envelope fields
func StripReserved(properties map[string]interface{}) map[string]interface{} {
	stripped := make(map[string]interface{}, len(properties))
	for key, value := range properties {
		stripped[key] = value
	}
	for _, key := range reservedFields {
		delete(stripped, key)
	}
	return stripped
}

// Condition is an equality condition on a top level string property
type Condition struct {
	Field    string
	Value    string
	FoldCase bool
}

// Filter is a conjunction of conditions. An empty filter matches every document.
type Filter []Condition

// Eq returns a condition for field == value
func Eq(field, value string) Condition {
	return Condition{Field: field, Value: value}
}

// EqFold returns a case-insensitive condition for field == value
func EqFold(field, value string) Condition {
	return Condition{Field: field, Value: value, FoldCase: true}
}

// normalize deep copies a JSON-like value into its canonical decoded form
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var n interface{}
	err = json.Unmarshal(data, &n)
	return n, err
}

func normalizeProperties(properties map[string]interface{}) (map[string]interface{}, error) {
	if properties == nil {
		return map[string]interface{}{}, nil
	}
	n, err := normalize(properties)
	if err != nil {
		return nil, fmt.Errorf("properties are not valid JSON: %w", err)
	}
	return n.(map[string]interface{}), nil
}

// merge applies patch on top of current and reports whether anything changed
func merge(current, patch map[string]interface{}) (map[string]interface{}, bool, error) {
	normalizedPatch, err := normalizeProperties(StripReserved(patch))
	if err != nil {
		return nil, false, err
	}
	merged := make(map[string]interface{}, len(current)+len(normalizedPatch))
	for key, value := range current {
		merged[key] = value
	}
	changed := false
	for key, value := range normalizedPatch {
		old, ok := current[key]
		if !ok || !reflect.DeepEqual(old, value) {
			changed = true
		}
		merged[key] = value
	}
	return merged, changed, nil
}
