// Package reconcile routes staged records into target inserts and updates.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/gourab8389/migrata-new/internal/org"
	"github.com/gourab8389/migrata-new/internal/staging"
)

// Audit field names stamped onto routed records when enabled.
const (
	auditSourceIDField     = "SourceId__c"
	auditMigratedDateField = "LastMigratedDate__c"
)

// Options controls how staged records are matched against the target.
type Options struct {
	// ExternalIDField is the target field used to match existing records;
	// empty routes every record to insert.
	ExternalIDField string
	// InsertAll skips target matching entirely (the delete-all mode).
	InsertAll bool
	// StampAuditFields enables source-id and migration-timestamp stamping.
	StampAuditFields bool
	// Namespace prefixes the audit field names when set.
	Namespace string
	// Now is the migration timestamp; zero means time.Now.
	Now time.Time
}

// Plan is the routed outcome for one object type.
type Plan struct {
	Object  string
	Inserts []org.Record
	Updates []org.Record
}

// BuildPlan matches staged records against the target org by external id and
// routes each to insert or update. Source record ids never travel to the
// target: the Id field is dropped and updates carry the matched target id.
func BuildPlan(ctx context.Context, target org.Connection, object string, staged []staging.StagedRecord, opts Options) (Plan, error) {
	plan := Plan{Object: object}

	existing := map[string]string{}
	if !opts.InsertAll && opts.ExternalIDField != "" {
		q := fmt.Sprintf("SELECT Id, %s FROM %s", opts.ExternalIDField, object)
		records, err := target.Query(ctx, q)
		if err != nil {
			return plan, fmt.Errorf("query target %s: %w", object, err)
		}
		for _, rec := range records {
			extVal, _ := rec[opts.ExternalIDField].(string)
			id, _ := rec["Id"].(string)
			if extVal != "" && id != "" {
				existing[extVal] = id
			}
		}
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	stamp := now.Format(time.RFC3339)

	for _, rec := range staged {
		routed := make(org.Record, len(rec.Fields))
		for k, v := range rec.Fields {
			if k == "Id" {
				continue
			}
			routed[k] = v
		}
		if opts.StampAuditFields {
			routed[prefixed(opts.Namespace, auditSourceIDField)] = rec.SourceID
			routed[prefixed(opts.Namespace, auditMigratedDateField)] = stamp
		}

		if !opts.InsertAll && opts.ExternalIDField != "" {
			extVal, _ := rec.Fields[opts.ExternalIDField].(string)
			if targetID, ok := existing[extVal]; ok && extVal != "" {
				routed["Id"] = targetID
				plan.Updates = append(plan.Updates, routed)
				continue
			}
		}
		plan.Inserts = append(plan.Inserts, routed)
	}
	return plan, nil
}

func prefixed(namespace, field string) string {
	if namespace == "" {
		return field
	}
	return namespace + "__" + field
}
