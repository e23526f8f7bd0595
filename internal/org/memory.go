package org

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryConnection is a deterministic in-process Connection used by tests
// and local development. Query parses only the object name after FROM and
// returns every stored record of that type; filters are ignored.
type MemoryConnection struct {
	name string

	mu      sync.Mutex
	schemas map[string][]FieldDescriptor
	records map[string][]Record
}

func NewMemoryConnection(name string) *MemoryConnection {
	return &MemoryConnection{
		name:    name,
		schemas: map[string][]FieldDescriptor{},
		records: map[string][]Record{},
	}
}

func (m *MemoryConnection) OrgName() string { return m.name }

func (m *MemoryConnection) Close() error { return nil }

// RegisterSchema installs the field descriptors returned by Describe.
func (m *MemoryConnection) RegisterSchema(objectName string, fields []FieldDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[objectName] = append([]FieldDescriptor(nil), fields...)
}

// Seed installs records returned by Query for the object.
func (m *MemoryConnection) Seed(objectName string, records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.records[objectName] = append(m.records[objectName], cloneRecord(rec))
	}
}

func (m *MemoryConnection) Describe(_ context.Context, objectName string) ([]FieldDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.schemas[objectName]
	if !ok {
		return nil, wrapError(CodeNotFound, false, fmt.Errorf("object %q not registered", objectName))
	}
	return append([]FieldDescriptor(nil), fields...), nil
}

func (m *MemoryConnection) Query(_ context.Context, query string) ([]Record, error) {
	objectName, err := objectFromQuery(query)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records[objectName] {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (m *MemoryConnection) Insert(_ context.Context, objectName string, records []Record) ([]SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]SaveResult, 0, len(records))
	for _, rec := range records {
		stored := cloneRecord(rec)
		id := uuid.NewString()
		stored["Id"] = id
		m.records[objectName] = append(m.records[objectName], stored)
		results = append(results, SaveResult{ID: id, Success: true, Created: true})
	}
	return results, nil
}

func (m *MemoryConnection) Update(_ context.Context, objectName string, records []Record) ([]SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]SaveResult, 0, len(records))
	for _, rec := range records {
		id, _ := rec["Id"].(string)
		idx := m.indexByIDLocked(objectName, id)
		if idx < 0 {
			results = append(results, SaveResult{Success: false, Errors: []string{"ENTITY_IS_DELETED: no record " + id}})
			continue
		}
		stored := m.records[objectName][idx]
		for k, v := range rec {
			stored[k] = v
		}
		results = append(results, SaveResult{ID: id, Success: true})
	}
	return results, nil
}

func (m *MemoryConnection) Delete(_ context.Context, objectName string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		idx := m.indexByIDLocked(objectName, id)
		if idx < 0 {
			continue
		}
		m.records[objectName] = append(m.records[objectName][:idx], m.records[objectName][idx+1:]...)
		deleted++
	}
	return deleted, nil
}

func (m *MemoryConnection) indexByIDLocked(objectName, id string) int {
	for i, rec := range m.records[objectName] {
		if got, _ := rec["Id"].(string); got == id && id != "" {
			return i
		}
	}
	return -1
}

func objectFromQuery(query string) (string, error) {
	tokens := strings.Fields(query)
	for i, tok := range tokens {
		if strings.EqualFold(tok, "FROM") && i+1 < len(tokens) {
			return tokens[i+1], nil
		}
	}
	return "", wrapError(CodeBadRequest, false, fmt.Errorf("no FROM clause in %q", query))
}

func cloneRecord(rec Record) Record {
	out := Record{}
	for k, v := range rec {
		out[k] = v
	}
	return out
}

var _ Connection = (*MemoryConnection)(nil)
