package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gourab8389/migrata-new/internal/bulkload"
	"github.com/gourab8389/migrata-new/internal/console"
	"github.com/gourab8389/migrata-new/internal/extract"
	"github.com/gourab8389/migrata-new/internal/notify"
	"github.com/gourab8389/migrata-new/internal/org"
	"github.com/gourab8389/migrata-new/internal/progress"
	"github.com/gourab8389/migrata-new/internal/runstore"
	"github.com/gourab8389/migrata-new/internal/schemadiff"
	"github.com/gourab8389/migrata-new/internal/staging"
)

type fixture struct {
	orch    *Orchestrator
	console *org.MemoryConnection
	source  *org.MemoryConnection
	target  *org.MemoryConnection
	runs    *runstore.MemoryStore
	events  *progress.Broadcaster
}

func accountSchema() []org.FieldDescriptor {
	return []org.FieldDescriptor{
		{Name: "Id", Type: "id"},
		{Name: "Name", Type: "string", Createable: true, Updateable: true},
		{Name: "External_Key__c", Type: "string", Custom: true, Createable: true, Updateable: true},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		console: org.NewMemoryConnection("console"),
		source:  org.NewMemoryConnection("source"),
		target:  org.NewMemoryConnection("target"),
		runs:    runstore.NewMemoryStore(),
		events:  progress.NewBroadcaster(),
	}
	f.console.Seed("DataSchedule__c", []org.Record{
		{"Id": "sched1", "Data_Batch__c": "b1", "Source_Org__c": "source",
			"Target_Org__c": "target", "Status__c": console.StatusQueued},
	})
	conns := map[string]org.Connection{
		"source": f.source,
		"target": f.target,
	}
	connector := org.ConnectorFunc(func(_ context.Context, domain string) (org.Connection, error) {
		return conns[domain], nil
	})
	staged := staging.NewMemoryStore()
	f.orch = New(Deps{
		Console:  console.New(f.console, ""),
		Connect:  connector,
		Staging:  staged,
		Runs:     f.runs,
		Fetcher:  extract.NewFetcher(staged),
		Loader:   bulkload.NewLoader(0),
		Diff:     schemadiff.NewEngine(),
		Progress: f.events,
		Lock:     NewRunLock(),
		Notifier: notify.NewLogNotifier(),
	})
	return f
}

func (f *fixture) seedBatchItem(rec org.Record) {
	f.console.Seed("DataBatchItem__c", []org.Record{rec})
}

func waitDone(t *testing.T, h *RunHandle) runstore.Run {
	t.Helper()
	select {
	case <-h.Done():
		return h.Result()
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return runstore.Run{}
	}
}

func TestRunMigratesObjectsInDependencyOrder(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Contact", "Active__c": true})
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	f.console.Seed("DataRelationship__c", []org.Record{
		{"Object_Name__c": "Contact", "Parent_Object__c": "Account"},
	})
	f.source.RegisterSchema("Account", accountSchema())
	f.source.RegisterSchema("Contact", accountSchema())
	f.source.Seed("Account", []org.Record{{"Id": "a1", "Name": "Acme"}})
	f.source.Seed("Contact", []org.Record{{"Id": "c1", "Name": "Jane"}})

	h, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)
	run := waitDone(t, h)

	require.Equal(t, runstore.StatusSuccess, run.Status)
	require.Len(t, run.Objects, 2)
	require.Equal(t, "Account", run.Objects[0].Object, "parent must run first")
	require.Equal(t, 1, run.Objects[0].Inserted)
	require.Equal(t, 1, run.Objects[1].Inserted)

	accounts, err := f.target.Query(context.Background(), "SELECT Id FROM Account")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "Acme", accounts[0]["Name"])

	// Run store and console schedule both reflect the terminal status.
	stored, err := f.runs.GetRun(context.Background(), h.RunID)
	require.NoError(t, err)
	require.Equal(t, runstore.StatusSuccess, stored.Status)
	sched, err := f.orch.deps.Console.Schedule(context.Background(), "sched1")
	require.NoError(t, err)
	require.Equal(t, console.StatusSuccess, sched.Status)
}

func TestRunLockRejectsConcurrentTrigger(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	f.source.RegisterSchema("Account", accountSchema())

	release := make(chan struct{})
	inner := f.orch.deps.Connect
	f.orch.deps.Connect = org.ConnectorFunc(func(ctx context.Context, domain string) (org.Connection, error) {
		<-release
		return inner.Connect(ctx, domain)
	})

	h1, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)

	_, err = f.orch.StartRun(context.Background(), "sched1")
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	waitDone(t, h1)

	// Lock is released after the run finishes.
	h2, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)
	waitDone(t, h2)
}

func TestRunLockFreeWhenDoneCloses(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	f.source.RegisterSchema("Account", accountSchema())

	// A caller observing Done must be able to retrigger without losing the
	// lock race against the finishing run.
	for i := 0; i < 50; i++ {
		h, err := f.orch.StartRun(context.Background(), "sched1")
		require.NoError(t, err, "iteration %d: lock still held after Done", i)
		waitDone(t, h)
	}
}

func TestRunFailsOnDependencyCycle(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "A", "Active__c": true})
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "B", "Active__c": true})
	f.console.Seed("DataRelationship__c", []org.Record{
		{"Object_Name__c": "A", "Parent_Object__c": "B"},
		{"Object_Name__c": "B", "Parent_Object__c": "A"},
	})

	h, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)
	run := waitDone(t, h)

	require.Equal(t, runstore.StatusFailed, run.Status)
	require.Contains(t, run.Error, "dependency cycle")
	sched, _ := f.orch.deps.Console.Schedule(context.Background(), "sched1")
	require.Equal(t, console.StatusFailed, sched.Status)
}

func TestObjectFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Broken", "Active__c": true})
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	// Broken is never registered on the source, so its describe fails.
	f.source.RegisterSchema("Account", accountSchema())
	f.source.Seed("Account", []org.Record{{"Id": "a1", "Name": "Acme"}})

	h, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)
	run := waitDone(t, h)

	require.Equal(t, runstore.StatusFailed, run.Status)
	require.Len(t, run.Objects, 2)
	require.NotEmpty(t, run.Objects[0].Error)
	require.Empty(t, run.Objects[1].Error, "healthy object must still migrate")
	require.Equal(t, 1, run.Objects[1].Inserted)
}

func TestDeleteAllAndInsertAll(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true,
		"Target_Operation__c": OpDeleteAllInsertAll})
	f.source.RegisterSchema("Account", accountSchema())
	f.source.Seed("Account", []org.Record{{"Id": "a1", "Name": "Fresh"}})
	f.target.Seed("Account", []org.Record{
		{"Id": "t1", "Name": "Stale"},
		{"Id": "t2", "Name": "Stale2"},
	})

	h, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)
	run := waitDone(t, h)

	require.Equal(t, runstore.StatusSuccess, run.Status)
	records, err := f.target.Query(context.Background(), "SELECT Id FROM Account")
	require.NoError(t, err)
	require.Len(t, records, 1, "stale target records must be deleted")
	require.Equal(t, "Fresh", records[0]["Name"])
}

func TestUpdateExistingByExternalID(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	f.console.Seed("DataObjectConfiguration__c", []org.Record{
		{"Object_Name__c": "Account", "External_Id_Field__c": "External_Key__c"},
	})
	f.source.RegisterSchema("Account", accountSchema())
	f.source.Seed("Account", []org.Record{{"Id": "a1", "Name": "Acme v2", "External_Key__c": "K1"}})
	f.target.Seed("Account", []org.Record{{"Id": "t1", "Name": "Acme", "External_Key__c": "K1"}})

	h, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)
	run := waitDone(t, h)

	require.Equal(t, runstore.StatusSuccess, run.Status)
	require.Equal(t, 1, run.Objects[0].Updated)
	require.Equal(t, 0, run.Objects[0].Inserted)
	records, _ := f.target.Query(context.Background(), "SELECT Id FROM Account")
	require.Len(t, records, 1)
	require.Equal(t, "Acme v2", records[0]["Name"])
}

func TestRunPublishesProgressEvents(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	f.source.RegisterSchema("Account", accountSchema())

	// Hold the run at org connect until the subscription is in place.
	release := make(chan struct{})
	inner := f.orch.deps.Connect
	f.orch.deps.Connect = org.ConnectorFunc(func(ctx context.Context, domain string) (org.Connection, error) {
		<-release
		return inner.Connect(ctx, domain)
	})

	h, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)
	ch, cancel := f.events.Subscribe(h.RunID, 16)
	defer cancel()
	close(release)

	var types []string
	for ev := range ch {
		types = append(types, ev.Type)
	}
	waitDone(t, h)
	require.Contains(t, types, progress.EventRunFinished, "terminal event must close the stream")
}

func TestStartDiffStoresResultAndStreamsProgress(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	f.source.RegisterSchema("Account", accountSchema())
	f.target.RegisterSchema("Account", accountSchema()[:2]) // External_Key__c missing

	ch, cancel := f.events.Subscribe(DiffTopic("sched1"), 16)
	defer cancel()

	require.NoError(t, f.orch.StartDiff(context.Background(), DiffRequest{
		ScheduleID: "sched1",
		Scope:      schemadiff.ScopeAll,
	}))

	var sawProgress, sawFinished bool
	for ev := range ch {
		switch ev.Type {
		case progress.EventDiffProgress:
			sawProgress = true
		case progress.EventRunFinished:
			sawFinished = true
		}
	}
	require.True(t, sawProgress, "diff progress events expected")
	require.True(t, sawFinished, "terminal diff event expected")

	res, err := f.runs.GetDiff(context.Background(), "sched1")
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	require.Equal(t, []string{"External_Key__c"}, res.Objects[0].ExtraFieldsInSource)
}

func TestStartDiffHonorsComparisonPairAndObjectSubset(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Contact", "Active__c": true})
	f.source.RegisterSchema("Account", accountSchema())
	f.target.RegisterSchema("Account", accountSchema())

	alt := org.NewMemoryConnection("alt")
	alt.RegisterSchema("Account", append(accountSchema(),
		org.FieldDescriptor{Name: "AltOnly__c", Type: "string", Custom: true, Createable: true}))
	conns := map[string]org.Connection{"source": f.source, "target": f.target, "alt": alt}
	f.orch.deps.Connect = org.ConnectorFunc(func(_ context.Context, domain string) (org.Connection, error) {
		return conns[domain], nil
	})

	ch, cancel := f.events.Subscribe(DiffTopic("sched1"), 16)
	defer cancel()

	require.NoError(t, f.orch.StartDiff(context.Background(), DiffRequest{
		ScheduleID: "sched1",
		Objects:    []string{"Account"},
		SourceOrg:  "alt",
	}))
	for range ch {
	}

	res, err := f.runs.GetDiff(context.Background(), "sched1")
	require.NoError(t, err)
	require.Len(t, res.Objects, 1, "object subset must exclude Contact")
	require.Equal(t, "Account", res.Objects[0].Object)
	require.Equal(t, []string{"AltOnly__c"}, res.Objects[0].ExtraFieldsInSource,
		"comparison must read the overridden source org")
}

// loadOrderConnection records the object names of insert calls.
type loadOrderConnection struct {
	*org.MemoryConnection
	mu      sync.Mutex
	inserts []string
}

func (c *loadOrderConnection) Insert(ctx context.Context, objectName string, records []org.Record) ([]org.SaveResult, error) {
	c.mu.Lock()
	c.inserts = append(c.inserts, objectName)
	c.mu.Unlock()
	return c.MemoryConnection.Insert(ctx, objectName, records)
}

func TestRunLoadsInReverseDependencyOrder(t *testing.T) {
	f := newFixture(t)
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Contact", "Active__c": true})
	f.seedBatchItem(org.Record{"Data_Batch__c": "b1", "Object_Name__c": "Account", "Active__c": true})
	f.console.Seed("DataRelationship__c", []org.Record{
		{"Object_Name__c": "Contact", "Parent_Object__c": "Account"},
	})
	f.source.RegisterSchema("Account", accountSchema())
	f.source.RegisterSchema("Contact", accountSchema())
	f.source.Seed("Account", []org.Record{{"Id": "a1", "Name": "Acme"}})
	f.source.Seed("Contact", []org.Record{{"Id": "c1", "Name": "Jane"}})

	tracked := &loadOrderConnection{MemoryConnection: f.target}
	conns := map[string]org.Connection{"source": f.source, "target": tracked}
	f.orch.deps.Connect = org.ConnectorFunc(func(_ context.Context, domain string) (org.Connection, error) {
		return conns[domain], nil
	})

	h, err := f.orch.StartRun(context.Background(), "sched1")
	require.NoError(t, err)
	run := waitDone(t, h)

	require.Equal(t, runstore.StatusSuccess, run.Status)
	require.Equal(t, []string{"Account", "Contact"}, run.ObjectOrder)
	require.Equal(t, []string{"Contact", "Account"}, tracked.inserts,
		"upload must reverse the download order")
}
