// Package console reads migration configuration from the console org.
//
// All configuration lives in custom objects on the console org (batches,
// batch items, relationships, object configurations, schedules, settings);
// this package wraps the raw queries and hides the namespace prefix.
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gourab8389/migrata-new/internal/flow"
	"github.com/gourab8389/migrata-new/internal/org"
)

// Schedule status values mirrored onto the console schedule record.
const (
	StatusQueued     = "Queued"
	StatusInProgress = "In-Progress"
	StatusSuccess    = "Success"
	StatusFailed     = "Failed"
)

// ObjectConfig carries the identity configuration of one object type.
// CompareFields, when set, restricts schema comparison to those fields.
type ObjectConfig struct {
	ObjectName      string
	ExternalIDField string
	UniqueFields    []string
	CompareFields   []string
}

// Settings are org-wide migration toggles.
type Settings struct {
	EnableAuditFields bool
}

// Schedule is the console-side run trigger record.
type Schedule struct {
	ID        string
	BatchID   string
	SourceOrg string
	TargetOrg string
	Status    string
}

// Store reads and writes console configuration through an org connection.
type Store struct {
	conn org.Connection
	ns   string
}

// New builds a Store. namespace is the managed-package prefix without the
// trailing separator ("acme" yields acme__DataBatch__c); empty means none.
func New(conn org.Connection, namespace string) *Store {
	return &Store{conn: conn, ns: namespace}
}

func (s *Store) obj(name string) string {
	if s.ns == "" {
		return name
	}
	return s.ns + "__" + name
}

func (s *Store) field(name string) string {
	if s.ns == "" {
		return name
	}
	return s.ns + "__" + name
}

// Schedule fetches one schedule record by id.
func (s *Store) Schedule(ctx context.Context, scheduleID string) (Schedule, error) {
	q := fmt.Sprintf("SELECT Id, %s, %s, %s, %s FROM %s WHERE Id = '%s'",
		s.field("Data_Batch__c"), s.field("Source_Org__c"), s.field("Target_Org__c"),
		s.field("Status__c"), s.obj("DataSchedule__c"), scheduleID)
	records, err := s.conn.Query(ctx, q)
	if err != nil {
		return Schedule{}, err
	}
	for _, rec := range records {
		if str(rec, "Id") != scheduleID {
			continue
		}
		return Schedule{
			ID:        scheduleID,
			BatchID:   str(rec, s.field("Data_Batch__c")),
			SourceOrg: str(rec, s.field("Source_Org__c")),
			TargetOrg: str(rec, s.field("Target_Org__c")),
			Status:    str(rec, s.field("Status__c")),
		}, nil
	}
	return Schedule{}, fmt.Errorf("schedule %s not found", scheduleID)
}

// ObjectSpecs returns the active object specs of a batch, in record order.
func (s *Store) ObjectSpecs(ctx context.Context, batchID string) ([]flow.ObjectSpec, error) {
	q := fmt.Sprintf("SELECT Id, %s, %s, %s, %s, %s FROM %s WHERE %s = '%s'",
		s.field("Object_Name__c"), s.field("Active__c"), s.field("Filter_Criteria__c"),
		s.field("Quick_Deploy_Ids__c"), s.field("Target_Operation__c"),
		s.obj("DataBatchItem__c"), s.field("Data_Batch__c"), batchID)
	records, err := s.conn.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	var specs []flow.ObjectSpec
	for _, rec := range records {
		if batch := str(rec, s.field("Data_Batch__c")); batch != "" && batch != batchID {
			continue
		}
		if !boolVal(rec, s.field("Active__c")) {
			continue
		}
		specs = append(specs, flow.ObjectSpec{
			Name:            str(rec, s.field("Object_Name__c")),
			Active:          true,
			Filter:          str(rec, s.field("Filter_Criteria__c")),
			QuickDeployIDs:  splitList(str(rec, s.field("Quick_Deploy_Ids__c"))),
			TargetOperation: str(rec, s.field("Target_Operation__c")),
		})
	}
	return specs, nil
}

// DependencyEdges returns all declared parent relationships.
func (s *Store) DependencyEdges(ctx context.Context) ([]flow.DependencyEdge, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s",
		s.field("Object_Name__c"), s.field("Parent_Object__c"), s.obj("DataRelationship__c"))
	records, err := s.conn.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	var edges []flow.DependencyEdge
	for _, rec := range records {
		edges = append(edges, flow.DependencyEdge{
			Object: str(rec, s.field("Object_Name__c")),
			Parent: str(rec, s.field("Parent_Object__c")),
		})
	}
	return edges, nil
}

// ObjectConfig returns the identity configuration for one object type.
// A missing configuration record is not an error; the zero config falls
// back to Id-based matching downstream.
func (s *Store) ObjectConfig(ctx context.Context, objectName string) (ObjectConfig, error) {
	q := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s = '%s'",
		s.field("Object_Name__c"), s.field("External_Id_Field__c"), s.field("Unique_Fields__c"),
		s.field("Compare_Fields__c"),
		s.obj("DataObjectConfiguration__c"), s.field("Object_Name__c"), objectName)
	records, err := s.conn.Query(ctx, q)
	if err != nil {
		return ObjectConfig{}, err
	}
	for _, rec := range records {
		if str(rec, s.field("Object_Name__c")) != objectName {
			continue
		}
		return ObjectConfig{
			ObjectName:      objectName,
			ExternalIDField: str(rec, s.field("External_Id_Field__c")),
			UniqueFields:    splitList(str(rec, s.field("Unique_Fields__c"))),
			CompareFields:   splitList(str(rec, s.field("Compare_Fields__c"))),
		}, nil
	}
	return ObjectConfig{ObjectName: objectName}, nil
}

// Settings returns the org-wide migration settings; defaults when absent.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", s.field("Enable_Audit_Fields__c"), s.obj("Settings__c"))
	records, err := s.conn.Query(ctx, q)
	if err != nil {
		return Settings{}, err
	}
	for _, rec := range records {
		return Settings{EnableAuditFields: boolVal(rec, s.field("Enable_Audit_Fields__c"))}, nil
	}
	return Settings{}, nil
}

// UpdateScheduleStatus writes the run status back to the console schedule.
// Start and end timestamps are stamped for In-Progress and terminal states.
func (s *Store) UpdateScheduleStatus(ctx context.Context, scheduleID, status, errMsg string) error {
	rec := org.Record{
		"Id":                  scheduleID,
		s.field("Status__c"): status,
	}
	now := time.Now().UTC().Format(time.RFC3339)
	switch status {
	case StatusInProgress:
		rec[s.field("Start_Time__c")] = now
	case StatusSuccess, StatusFailed:
		rec[s.field("End_Time__c")] = now
	}
	if errMsg != "" {
		rec[s.field("Error_Message__c")] = errMsg
	}
	results, err := s.conn.Update(ctx, s.obj("DataSchedule__c"), []org.Record{rec})
	if err != nil {
		return err
	}
	if len(results) > 0 && !results[0].Success {
		return fmt.Errorf("schedule update rejected: %s", strings.Join(results[0].Errors, "; "))
	}
	return nil
}

func str(rec org.Record, key string) string {
	v, _ := rec[key].(string)
	return v
}

func boolVal(rec org.Record, key string) bool {
	switch v := rec[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
