package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process document store. It is used for tests and local development.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	created     map[string]int
}

type memoryCollection struct {
	order []uuid.UUID
	docs  map[uuid.UUID]*Document
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]*memoryCollection),
		created:     make(map[string]int),
	}
}

// EnsureCollection implements Store
func (m *Memory) EnsureCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = &memoryCollection{docs: make(map[uuid.UUID]*Document)}
		m.created[name]++
	}
	return nil
}

// Creations returns how often the named collection was physically created
func (m *Memory) Creations(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.created[name]
}

// Collection implements Store
func (m *Memory) Collection(name string) Collection {
	return &memoryHandle{m: m, name: name}
}

type memoryHandle struct {
	m    *Memory
	name string
}

func (h *memoryHandle) Name() string {
	return h.name
}

func (h *memoryHandle) collection() (*memoryCollection, error) {
	c, ok := h.m.collections[h.name]
	if !ok {
		return nil, fmt.Errorf("collection %s does not exist", h.name)
	}
	return c, nil
}

func copyDocument(d *Document) Document {
	c := *d
	c.Properties = make(map[string]interface{}, len(d.Properties))
	for key, value := range d.Properties {
		c.Properties[key] = value
	}
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return c
}

func (c Condition) matches(properties map[string]interface{}) bool {
	value, ok := properties[c.Field]
	if !ok {
		return false
	}
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	if c.FoldCase {
		return strings.EqualFold(s, c.Value)
	}
	return s == c.Value
}

func (f Filter) matches(properties map[string]interface{}) bool {
	for _, c := range f {
		if !c.matches(properties) {
			return false
		}
	}
	return true
}

func (h *memoryHandle) Insert(ctx context.Context, properties map[string]interface{}) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, err := normalizeProperties(StripReserved(properties))
	if err != nil {
		return nil, err
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	c, err := h.collection()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	d := &Document{
		ID:         uuid.New(),
		CreatedAt:  now,
		ModifiedAt: now,
		Properties: normalized,
	}
	c.docs[d.ID] = d
	c.order = append(c.order, d.ID)
	result := copyDocument(d)
	return &result, nil
}

func (h *memoryHandle) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	c, err := h.collection()
	if err != nil {
		return nil, err
	}
	d, ok := c.docs[id]
	if !ok || d.IsDeleted {
		return nil, ErrNotFound
	}
	result := copyDocument(d)
	return &result, nil
}

func (h *memoryHandle) FindOne(ctx context.Context, filter Filter) (*Document, error) {
	docs, err := h.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0], nil
}

func (h *memoryHandle) Find(ctx context.Context, filter Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	result := []Document{}
	c, ok := h.m.collections[h.name]
	if !ok {
		return result, nil
	}
	for _, id := range c.order {
		d := c.docs[id]
		if d.IsDeleted || !filter.matches(d.Properties) {
			continue
		}
		result = append(result, copyDocument(d))
	}
	return result, nil
}

func (h *memoryHandle) Update(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	c, err := h.collection()
	if err != nil {
		return false, err
	}
	d, ok := c.docs[id]
	if !ok || d.IsDeleted {
		return false, ErrNotFound
	}
	merged, changed, err := merge(d.Properties, patch)
	if err != nil || !changed {
		return false, err
	}
	d.Properties = merged
	d.ModifiedAt = time.Now().UTC()
	return true, nil
}

func (h *memoryHandle) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	c, err := h.collection()
	if err != nil {
		return false, err
	}
	if d, ok := c.docs[id]; !ok || d.IsDeleted {
		return false, nil
	}
	delete(c.docs, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (h *memoryHandle) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	c, err := h.collection()
	if err != nil {
		return false, err
	}
	d, ok := c.docs[id]
	if !ok || d.IsDeleted {
		return false, nil
	}
	now := time.Now().UTC()
	d.IsDeleted = true
	d.DeletedAt = &now
	d.ModifiedAt = now
	return true, nil
}
