// Package org defines the connection contract to a remote record-management
// org and its REST implementation.
//
// A Connection is the only way the migration core talks to an org:
//
//	Describe - field metadata for one object type
//	Query    - run a server-side query expression
//	Insert   - create records, per-record outcome
//	Update   - modify records, per-record outcome
//	Delete   - remove records by id
//
// Connections for the console, source and target orgs share this contract.
package org

import "context"

// Record represents a single org record as key-value pairs.
type Record = map[string]any

// PicklistValue is one enumerated value of a picklist field.
type PicklistValue struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Active   bool   `json:"active"`
	Default  bool   `json:"defaultValue"`
	ValidFor string `json:"validFor,omitempty"`
}

// FieldDescriptor is a snapshot of one field's shape in one org.
type FieldDescriptor struct {
	Name           string          `json:"name"`
	Label          string          `json:"label"`
	Type           string          `json:"type"`
	Length         int             `json:"length"`
	Scale          int             `json:"scale"`
	Nillable       bool            `json:"nillable"`
	Unique         bool            `json:"unique"`
	Calculated     bool            `json:"calculated"`
	Custom         bool            `json:"custom"`
	Createable     bool            `json:"createable"`
	Updateable     bool            `json:"updateable"`
	PicklistValues []PicklistValue `json:"picklistValues,omitempty"`
}

// SaveResult is the per-record outcome of an insert or update call.
type SaveResult struct {
	ID      string   `json:"id,omitempty"`
	Success bool     `json:"success"`
	Created bool     `json:"created,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Connection is the contract all org connections implement.
type Connection interface {
	// OrgName returns the label of the connected org.
	OrgName() string

	// Describe returns field metadata for the named object type.
	Describe(ctx context.Context, objectName string) ([]FieldDescriptor, error)

	// Query runs a query expression and returns all matching records,
	// following server-side pagination to completion.
	Query(ctx context.Context, query string) ([]Record, error)

	// Insert creates records and returns one SaveResult per input record,
	// in input order.
	Insert(ctx context.Context, objectName string, records []Record) ([]SaveResult, error)

	// Update modifies records (matched by their Id field) and returns one
	// SaveResult per input record, in input order.
	Update(ctx context.Context, objectName string, records []Record) ([]SaveResult, error)

	// Delete removes records by id and returns the number deleted.
	Delete(ctx context.Context, objectName string, ids []string) (int, error)

	// Close releases any resources held by the connection.
	Close() error
}

// Connector resolves a named org (by its domain label) to a live Connection.
type Connector interface {
	Connect(ctx context.Context, domain string) (Connection, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, domain string) (Connection, error)

func (f ConnectorFunc) Connect(ctx context.Context, domain string) (Connection, error) {
	return f(ctx, domain)
}
