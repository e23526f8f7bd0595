// Package extract pulls records out of the source org and stages them.
package extract

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gourab8389/migrata-new/internal/flow"
	"github.com/gourab8389/migrata-new/internal/org"
	"github.com/gourab8389/migrata-new/internal/staging"
)

// Fetcher extracts one object type at a time into the staging store.
type Fetcher struct {
	store staging.Store
}

func NewFetcher(store staging.Store) *Fetcher {
	return &Fetcher{store: store}
}

// Result summarizes one object extraction.
type Result struct {
	Object  string
	Fetched int
	Staged  int
}

// Run extracts the object's records from conn, sanitizes them, computes
// their identity and replaces the staged snapshot for (object, source org).
// The quick-deploy allow-list, when present, keeps only records whose Id or
// Name matches an entry.
func (f *Fetcher) Run(ctx context.Context, conn org.Connection, spec flow.ObjectSpec, uniqueFields []string) (Result, error) {
	res := Result{Object: spec.Name}

	fields, err := conn.Describe(ctx, spec.Name)
	if err != nil {
		return res, fmt.Errorf("describe %s: %w", spec.Name, err)
	}
	query := BuildQuery(spec.Name, SelectFields(fields), spec.Filter)

	records, err := conn.Query(ctx, query)
	if err != nil {
		return res, fmt.Errorf("query %s: %w", spec.Name, err)
	}
	res.Fetched = len(records)

	if len(spec.QuickDeployIDs) > 0 {
		records = filterAllowList(records, spec.QuickDeployIDs)
	}

	keyFields := uniqueFields
	if len(keyFields) == 0 {
		keyFields = []string{"Id"}
	}

	now := time.Now().UTC()
	staged := make([]staging.StagedRecord, 0, len(records))
	for _, rec := range records {
		clean := staging.Sanitize(rec)
		id, _ := clean["Id"].(string)
		key := staging.UniqueKey(clean, keyFields)
		staged = append(staged, staging.StagedRecord{
			Object:      spec.Name,
			SourceOrg:   conn.OrgName(),
			SourceID:    id,
			UniqueKey:   key,
			ContentHash: staging.ContentHash(key),
			Fields:      clean,
			StagedAt:    now,
		})
	}

	if err := f.store.Clear(ctx, spec.Name, conn.OrgName()); err != nil {
		return res, err
	}
	if err := f.store.Put(ctx, staged); err != nil {
		return res, err
	}
	if err := f.store.SetLastSync(ctx, spec.Name, conn.OrgName(), now); err != nil {
		return res, err
	}
	res.Staged = len(staged)
	log.Printf("extract: %s staged %d/%d records from %s", spec.Name, res.Staged, res.Fetched, conn.OrgName())
	return res, nil
}

// SelectFields picks the field names worth extracting: Id plus every field
// that can be written on the target. Calculated fields are skipped, and
// custom fields from foreign packages (three "__" segments) are skipped.
func SelectFields(fields []org.FieldDescriptor) []string {
	names := []string{"Id"}
	for _, f := range fields {
		if f.Name == "Id" || f.Calculated {
			continue
		}
		if !f.Createable && !f.Updateable {
			continue
		}
		if f.Custom && !IsModifiable(f.Name) {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// IsModifiable reports whether a custom field belongs to the local package:
// its name splits into exactly two segments on "__" (Foo__c, never
// ns__Foo__c).
func IsModifiable(name string) bool {
	return len(strings.Split(name, "__")) == 2
}

// BuildQuery assembles the extraction query for one object.
func BuildQuery(objectName string, fields []string, filter string) string {
	q := "SELECT " + strings.Join(fields, ", ") + " FROM " + objectName
	if strings.TrimSpace(filter) != "" {
		q += " WHERE " + filter
	}
	return q
}

func filterAllowList(records []org.Record, allow []string) []org.Record {
	allowed := make(map[string]bool, len(allow))
	for _, a := range allow {
		allowed[a] = true
	}
	var out []org.Record
	for _, rec := range records {
		id, _ := rec["Id"].(string)
		name, _ := rec["Name"].(string)
		if allowed[id] || allowed[name] {
			out = append(out, rec)
		}
	}
	return out
}
