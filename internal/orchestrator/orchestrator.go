// Package orchestrator drives migration runs: it resolves the processing
// order, extracts every object in download order, loads in upload order,
// and keeps the run store, console schedule and progress subscribers in
// sync.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gourab8389/migrata-new/internal/bulkload"
	"github.com/gourab8389/migrata-new/internal/console"
	"github.com/gourab8389/migrata-new/internal/extract"
	"github.com/gourab8389/migrata-new/internal/flow"
	"github.com/gourab8389/migrata-new/internal/notify"
	"github.com/gourab8389/migrata-new/internal/org"
	"github.com/gourab8389/migrata-new/internal/progress"
	"github.com/gourab8389/migrata-new/internal/reconcile"
	"github.com/gourab8389/migrata-new/internal/runstore"
	"github.com/gourab8389/migrata-new/internal/schemadiff"
	"github.com/gourab8389/migrata-new/internal/staging"
)

// Target operation modes declared on batch items.
const (
	OpInsertAndUpdate    = "Insert and Update"
	OpDeleteAllInsertAll = "Delete All and Insert All"
)

// Archiver stores finished run reports; failures are logged, never fatal.
type Archiver interface {
	SaveReport(ctx context.Context, run runstore.Run) error
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Console   *console.Store
	Connect   org.Connector
	Staging   staging.Store
	Runs      runstore.Store
	Fetcher   *extract.Fetcher
	Loader    *bulkload.Loader
	Diff      *schemadiff.Engine
	Progress  *progress.Broadcaster
	Lock      *RunLock
	Notifier  notify.Notifier
	Archiver  Archiver
	Namespace string
	// RunTimeout bounds one background run; zero means an hour.
	RunTimeout time.Duration
}

// Orchestrator owns the run lifecycle.
type Orchestrator struct {
	deps Deps

	mu          sync.Mutex
	activeDiffs map[string]bool
}

func New(deps Deps) *Orchestrator {
	if deps.Lock == nil {
		deps.Lock = NewRunLock()
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = time.Hour
	}
	return &Orchestrator{deps: deps, activeDiffs: map[string]bool{}}
}

// =====================================================================
// Migration runs
// =====================================================================

// StartRun triggers a background migration run for the schedule. It returns
// ErrAlreadyRunning when another run holds the lock. The run proceeds
// detached from the caller's context.
func (o *Orchestrator) StartRun(ctx context.Context, scheduleID string) (*RunHandle, error) {
	if !o.deps.Lock.TryAcquire() {
		return nil, ErrAlreadyRunning
	}

	run := runstore.Run{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		Status:     runstore.StatusQueued,
		StartedAt:  time.Now().UTC(),
	}
	if err := o.deps.Runs.SaveRun(ctx, run); err != nil {
		o.deps.Lock.Release()
		return nil, fmt.Errorf("persist run: %w", err)
	}

	handle := newRunHandle(run.ID)
	go func() {
		// The deferred release covers panic paths; the explicit one below
		// frees the lock before Done observers can retrigger.
		defer o.deps.Lock.Release()
		runCtx, cancel := context.WithTimeout(context.Background(), o.deps.RunTimeout)
		defer cancel()
		final := o.execute(runCtx, run)
		o.deps.Lock.Release()
		handle.finish(final)
	}()
	return handle, nil
}

func (o *Orchestrator) execute(ctx context.Context, run runstore.Run) runstore.Run {
	log.Printf("orchestrator: run %s started for schedule %s", run.ID, run.ScheduleID)
	run.Status = runstore.StatusInProgress
	o.saveRun(ctx, run)
	o.updateSchedule(ctx, run.ScheduleID, console.StatusInProgress, "")

	final := o.runPipeline(ctx, run)

	final.FinishedAt = time.Now().UTC()
	o.saveRun(ctx, final)
	if final.Status == runstore.StatusFailed {
		o.updateSchedule(ctx, final.ScheduleID, console.StatusFailed, final.Error)
	} else {
		o.updateSchedule(ctx, final.ScheduleID, console.StatusSuccess, "")
	}

	if o.deps.Progress != nil {
		o.deps.Progress.Finish(run.ID, progress.Event{Type: progress.EventRunFinished, Data: final})
	}
	if o.deps.Notifier != nil {
		o.deps.Notifier.RunCompleted(ctx, final)
	}
	if o.deps.Archiver != nil {
		if err := o.deps.Archiver.SaveReport(ctx, final); err != nil {
			log.Printf("orchestrator: archive report for run %s: %v", final.ID, err)
		}
	}
	log.Printf("orchestrator: run %s finished %s", final.ID, final.Status)
	return final
}

func (o *Orchestrator) runPipeline(ctx context.Context, run runstore.Run) runstore.Run {
	sched, err := o.deps.Console.Schedule(ctx, run.ScheduleID)
	if err != nil {
		return failRun(run, fmt.Errorf("load schedule: %w", err))
	}
	run.BatchID = sched.BatchID
	run.SourceOrg = sched.SourceOrg
	run.TargetOrg = sched.TargetOrg

	specs, err := o.deps.Console.ObjectSpecs(ctx, sched.BatchID)
	if err != nil {
		return failRun(run, fmt.Errorf("load object specs: %w", err))
	}
	if len(specs) == 0 {
		return failRun(run, errors.New("no active objects in batch"))
	}
	edges, err := o.deps.Console.DependencyEdges(ctx)
	if err != nil {
		return failRun(run, fmt.Errorf("load relationships: %w", err))
	}
	order, err := flow.Resolve(specs, edges)
	if err != nil {
		return failRun(run, err)
	}
	run.ObjectOrder = order.Download
	settings, err := o.deps.Console.Settings(ctx)
	if err != nil {
		return failRun(run, fmt.Errorf("load settings: %w", err))
	}

	source, err := o.deps.Connect.Connect(ctx, sched.SourceOrg)
	if err != nil {
		return failRun(run, fmt.Errorf("connect source org: %w", err))
	}
	defer source.Close()
	target, err := o.deps.Connect.Connect(ctx, sched.TargetOrg)
	if err != nil {
		return failRun(run, fmt.Errorf("connect target org: %w", err))
	}
	defer target.Close()

	byName := make(map[string]flow.ObjectSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	outcomes := make(map[string]*runstore.ObjectOutcome, len(specs))

	// Phase A: extract in download order, parents first.
	for _, object := range order.Download {
		outcome := &runstore.ObjectOutcome{Object: object, StartedAt: time.Now().UTC()}
		outcomes[object] = outcome
		if err := ctx.Err(); err != nil {
			outcome.Skipped = true
			outcome.Error = err.Error()
			outcome.Status = runstore.StatusFailed
			continue
		}
		o.publish(run.ID, progress.Event{Type: progress.EventObjectStarted, Data: object})
		o.extractObject(ctx, source, byName[object], outcome)
		o.publish(run.ID, progress.Event{Type: progress.EventObjectStaged, Data: *outcome})
		o.saveRun(ctx, snapshotRun(run, order.Download, outcomes))
	}

	// Phase B: load in upload order, children first. Objects that failed
	// extraction keep their failed outcome and are not loaded.
	for _, object := range order.Upload {
		outcome := outcomes[object]
		if outcome.Error != "" || outcome.Skipped {
			outcome.FinishedAt = time.Now().UTC()
			o.publish(run.ID, progress.Event{Type: progress.EventObjectFinished, Data: *outcome})
			continue
		}
		if err := ctx.Err(); err != nil {
			outcome.Error = err.Error()
			outcome.Status = runstore.StatusFailed
			outcome.FinishedAt = time.Now().UTC()
			continue
		}
		o.loadObject(ctx, source, target, byName[object], settings, outcome)
		outcome.FinishedAt = time.Now().UTC()
		if outcome.Error == "" && outcome.Failed == 0 {
			outcome.Status = runstore.StatusSuccess
		} else {
			outcome.Status = runstore.StatusFailed
		}
		o.publish(run.ID, progress.Event{Type: progress.EventObjectFinished, Data: *outcome})
		o.saveRun(ctx, snapshotRun(run, order.Download, outcomes))
	}

	run = snapshotRun(run, order.Download, outcomes)
	failed := false
	for _, outcome := range run.Objects {
		if outcome.Status != runstore.StatusSuccess {
			failed = true
			break
		}
	}
	if failed {
		run.Status = runstore.StatusFailed
		run.Error = "one or more objects failed"
	} else {
		run.Status = runstore.StatusSuccess
	}
	return run
}

// extractObject runs phase A for one object: describe, fetch, sanitize,
// stage. Failures stay confined to this object's outcome.
func (o *Orchestrator) extractObject(ctx context.Context, source org.Connection, spec flow.ObjectSpec, outcome *runstore.ObjectOutcome) {
	cfg, err := o.deps.Console.ObjectConfig(ctx, spec.Name)
	if err != nil {
		outcome.Error = fmt.Sprintf("load object config: %v", err)
		outcome.Status = runstore.StatusFailed
		return
	}
	res, err := o.deps.Fetcher.Run(ctx, source, spec, cfg.UniqueFields)
	outcome.Fetched = res.Fetched
	outcome.Staged = res.Staged
	if err != nil {
		outcome.Error = fmt.Sprintf("extract: %v", err)
		outcome.Status = runstore.StatusFailed
	}
}

// loadObject runs phase B for one object: read staging, optional
// delete-all, reconcile, bulk load.
func (o *Orchestrator) loadObject(ctx context.Context, source, target org.Connection, spec flow.ObjectSpec, settings console.Settings, outcome *runstore.ObjectOutcome) {
	cfg, err := o.deps.Console.ObjectConfig(ctx, spec.Name)
	if err != nil {
		outcome.Error = fmt.Sprintf("load object config: %v", err)
		return
	}
	staged, err := o.deps.Staging.List(ctx, spec.Name, source.OrgName())
	if err != nil {
		outcome.Error = fmt.Sprintf("read staging: %v", err)
		return
	}

	deleteAll := strings.EqualFold(spec.TargetOperation, OpDeleteAllInsertAll)
	if deleteAll {
		if err := o.deleteAllTarget(ctx, target, spec.Name); err != nil {
			outcome.Error = fmt.Sprintf("delete all: %v", err)
			return
		}
	}

	plan, err := reconcile.BuildPlan(ctx, target, spec.Name, staged, reconcile.Options{
		ExternalIDField:  cfg.ExternalIDField,
		InsertAll:        deleteAll,
		StampAuditFields: settings.EnableAuditFields,
		Namespace:        o.deps.Namespace,
	})
	if err != nil {
		outcome.Error = fmt.Sprintf("reconcile: %v", err)
		return
	}

	loaded, err := o.deps.Loader.Load(ctx, target, plan)
	outcome.Inserted = loaded.Inserted
	outcome.Updated = loaded.Updated
	outcome.Failed = loaded.Failed
	outcome.Errors = loaded.Errors
	if err != nil {
		outcome.Error = fmt.Sprintf("load: %v", err)
	}
}

// deleteAllTarget removes every existing record of the object type from the
// target before an insert-all load.
func (o *Orchestrator) deleteAllTarget(ctx context.Context, target org.Connection, object string) error {
	records, err := target.Query(ctx, "SELECT Id FROM "+object)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if id, _ := rec["Id"].(string); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	deleted, err := target.Delete(ctx, object, ids)
	if err != nil {
		return err
	}
	log.Printf("orchestrator: deleted %d existing %s records from target", deleted, object)
	return nil
}

// snapshotRun assembles the run record with outcomes in download order.
func snapshotRun(run runstore.Run, order []string, outcomes map[string]*runstore.ObjectOutcome) runstore.Run {
	run.Objects = make([]runstore.ObjectOutcome, 0, len(order))
	for _, object := range order {
		if outcome, ok := outcomes[object]; ok {
			run.Objects = append(run.Objects, *outcome)
		}
	}
	return run
}

// =====================================================================
// Schema diffs
// =====================================================================

// DiffRequest selects what a schema comparison covers. Optional fields fall
// back to the schedule's batch objects and org pair.
type DiffRequest struct {
	ScheduleID string
	Scope      string
	// Objects restricts the comparison to a subset of the batch's objects.
	Objects []string
	// SourceOrg and TargetOrg override the schedule's comparison pair.
	SourceOrg string
	TargetOrg string
}

// StartDiff triggers a background schema comparison for the schedule.
// Diffs do not take the run lock, but at most one diff per schedule runs
// at a time. Progress is published on the schedule's diff topic.
func (o *Orchestrator) StartDiff(ctx context.Context, req DiffRequest) error {
	scheduleID := req.ScheduleID
	o.mu.Lock()
	if o.activeDiffs[scheduleID] {
		o.mu.Unlock()
		return fmt.Errorf("a schema diff for schedule %s is already in progress", scheduleID)
	}
	o.activeDiffs[scheduleID] = true
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.activeDiffs, scheduleID)
			o.mu.Unlock()
		}()
		diffCtx, cancel := context.WithTimeout(context.Background(), o.deps.RunTimeout)
		defer cancel()
		o.executeDiff(diffCtx, req)
	}()
	return nil
}

func (o *Orchestrator) executeDiff(ctx context.Context, req DiffRequest) {
	scheduleID := req.ScheduleID
	finish := func(res schemadiff.Result, err error) {
		if err != nil {
			log.Printf("orchestrator: diff for schedule %s failed: %v", scheduleID, err)
		} else if saveErr := o.deps.Runs.SaveDiff(ctx, res); saveErr != nil {
			log.Printf("orchestrator: save diff for schedule %s: %v", scheduleID, saveErr)
		}
		if o.deps.Progress != nil {
			o.deps.Progress.Finish(diffTopic(scheduleID), progress.Event{
				Type: progress.EventRunFinished, Data: res,
			})
		}
	}

	sched, err := o.deps.Console.Schedule(ctx, scheduleID)
	if err != nil {
		finish(schemadiff.Result{ScheduleID: scheduleID}, err)
		return
	}
	specs, err := o.deps.Console.ObjectSpecs(ctx, sched.BatchID)
	if err != nil {
		finish(schemadiff.Result{ScheduleID: scheduleID}, err)
		return
	}

	sourceOrg, targetOrg := sched.SourceOrg, sched.TargetOrg
	if req.SourceOrg != "" {
		sourceOrg = req.SourceOrg
	}
	if req.TargetOrg != "" {
		targetOrg = req.TargetOrg
	}
	source, err := o.deps.Connect.Connect(ctx, sourceOrg)
	if err != nil {
		finish(schemadiff.Result{ScheduleID: scheduleID}, err)
		return
	}
	defer source.Close()
	target, err := o.deps.Connect.Connect(ctx, targetOrg)
	if err != nil {
		finish(schemadiff.Result{ScheduleID: scheduleID}, err)
		return
	}
	defer target.Close()

	objects := req.Objects
	if len(objects) == 0 {
		objects = make([]string, len(specs))
		for i, s := range specs {
			objects[i] = s.Name
		}
	}
	fieldScope := map[string][]string{}
	if req.Scope == schemadiff.ScopeSchema {
		for _, name := range objects {
			cfg, err := o.deps.Console.ObjectConfig(ctx, name)
			if err == nil && len(cfg.CompareFields) > 0 {
				fieldScope[name] = cfg.CompareFields
			}
		}
	}
	res, err := o.deps.Diff.Compare(ctx, source, target, schemadiff.Request{
		ScheduleID: scheduleID,
		Objects:    objects,
		Scope:      req.Scope,
		FieldScope: fieldScope,
	}, func(p schemadiff.Progress) {
		o.publish(diffTopic(scheduleID), progress.Event{Type: progress.EventDiffProgress, Data: p})
	})
	finish(res, err)
}

// DiffTopic is the progress topic carrying diff events for a schedule.
func DiffTopic(scheduleID string) string { return diffTopic(scheduleID) }

func diffTopic(scheduleID string) string { return "diff:" + scheduleID }

// =====================================================================
// Helpers
// =====================================================================

func (o *Orchestrator) publish(topic string, ev progress.Event) {
	if o.deps.Progress != nil {
		o.deps.Progress.Publish(topic, ev)
	}
}

func (o *Orchestrator) saveRun(ctx context.Context, run runstore.Run) {
	if err := o.deps.Runs.SaveRun(ctx, run); err != nil {
		log.Printf("orchestrator: persist run %s: %v", run.ID, err)
	}
}

func (o *Orchestrator) updateSchedule(ctx context.Context, scheduleID, status, errMsg string) {
	if err := o.deps.Console.UpdateScheduleStatus(ctx, scheduleID, status, errMsg); err != nil {
		log.Printf("orchestrator: update schedule %s status: %v", scheduleID, err)
	}
}

func failRun(run runstore.Run, err error) runstore.Run {
	run.Status = runstore.StatusFailed
	run.Error = err.Error()
	return run
}
