package console

import (
	"context"
	"testing"

	"github.com/gourab8389/migrata-new/internal/org"
)

func newSeededStore(t *testing.T) (*Store, *org.MemoryConnection) {
	t.Helper()
	conn := org.NewMemoryConnection("console")
	conn.Seed("DataBatchItem__c", []org.Record{
		{"Id": "bi1", "Data_Batch__c": "batch1", "Object_Name__c": "Account", "Active__c": true,
			"Filter_Criteria__c": "Industry = 'Tech'", "Target_Operation__c": "Insert and Update"},
		{"Id": "bi2", "Data_Batch__c": "batch1", "Object_Name__c": "Contact", "Active__c": true,
			"Quick_Deploy_Ids__c": "003abc, Jane Doe"},
		{"Id": "bi3", "Data_Batch__c": "batch1", "Object_Name__c": "Lead", "Active__c": false},
	})
	conn.Seed("DataRelationship__c", []org.Record{
		{"Object_Name__c": "Contact", "Parent_Object__c": "Account"},
		{"Object_Name__c": "Account", "Parent_Object__c": ""},
	})
	conn.Seed("DataObjectConfiguration__c", []org.Record{
		{"Object_Name__c": "Account", "External_Id_Field__c": "External_Key__c",
			"Unique_Fields__c": "Name, BillingCity"},
	})
	conn.Seed("Settings__c", []org.Record{
		{"Enable_Audit_Fields__c": true},
	})
	conn.Seed("DataSchedule__c", []org.Record{
		{"Id": "sched1", "Data_Batch__c": "batch1", "Source_Org__c": "source",
			"Target_Org__c": "target", "Status__c": StatusQueued},
	})
	return New(conn, ""), conn
}

func TestObjectSpecsSkipsInactive(t *testing.T) {
	store, _ := newSeededStore(t)
	specs, err := store.ObjectSpecs(context.Background(), "batch1")
	if err != nil {
		t.Fatalf("ObjectSpecs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 active specs, got %d", len(specs))
	}
	if specs[0].Name != "Account" || specs[0].Filter != "Industry = 'Tech'" {
		t.Errorf("unexpected first spec: %+v", specs[0])
	}
	if len(specs[1].QuickDeployIDs) != 2 || specs[1].QuickDeployIDs[1] != "Jane Doe" {
		t.Errorf("quick deploy ids not parsed: %v", specs[1].QuickDeployIDs)
	}
}

func TestObjectConfigParsesUniqueFields(t *testing.T) {
	store, _ := newSeededStore(t)
	cfg, err := store.ObjectConfig(context.Background(), "Account")
	if err != nil {
		t.Fatalf("ObjectConfig: %v", err)
	}
	if cfg.ExternalIDField != "External_Key__c" {
		t.Errorf("unexpected external id field: %s", cfg.ExternalIDField)
	}
	if len(cfg.UniqueFields) != 2 || cfg.UniqueFields[1] != "BillingCity" {
		t.Errorf("unique fields not parsed: %v", cfg.UniqueFields)
	}
}

func TestObjectConfigMissingIsZero(t *testing.T) {
	store, _ := newSeededStore(t)
	cfg, err := store.ObjectConfig(context.Background(), "Contact")
	if err != nil {
		t.Fatalf("ObjectConfig: %v", err)
	}
	if cfg.ExternalIDField != "" || cfg.UniqueFields != nil {
		t.Errorf("expected zero config for unconfigured object, got %+v", cfg)
	}
}

func TestScheduleStatusRoundTrip(t *testing.T) {
	store, conn := newSeededStore(t)
	ctx := context.Background()

	sched, err := store.Schedule(ctx, "sched1")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if sched.BatchID != "batch1" || sched.Status != StatusQueued {
		t.Fatalf("unexpected schedule: %+v", sched)
	}

	if err := store.UpdateScheduleStatus(ctx, "sched1", StatusInProgress, ""); err != nil {
		t.Fatalf("UpdateScheduleStatus: %v", err)
	}
	if err := store.UpdateScheduleStatus(ctx, "sched1", StatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateScheduleStatus: %v", err)
	}

	records, err := conn.Query(ctx, "SELECT Id FROM DataSchedule__c")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if records[0]["Status__c"] != StatusFailed {
		t.Errorf("status not persisted: %v", records[0]["Status__c"])
	}
	if records[0]["Error_Message__c"] != "boom" {
		t.Errorf("error message not persisted: %v", records[0]["Error_Message__c"])
	}
	if records[0]["End_Time__c"] == nil {
		t.Error("end time not stamped on terminal status")
	}
}

func TestNamespacePrefixing(t *testing.T) {
	conn := org.NewMemoryConnection("console")
	conn.Seed("acme__DataRelationship__c", []org.Record{
		{"acme__Object_Name__c": "Contact", "acme__Parent_Object__c": "Account"},
	})
	store := New(conn, "acme")
	edges, err := store.DependencyEdges(context.Background())
	if err != nil {
		t.Fatalf("DependencyEdges: %v", err)
	}
	if len(edges) != 1 || edges[0].Parent != "Account" {
		t.Fatalf("namespaced query failed: %+v", edges)
	}
}
