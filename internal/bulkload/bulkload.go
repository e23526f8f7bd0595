// Package bulkload pushes routed records into the target org in chunks.
package bulkload

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/gourab8389/migrata-new/internal/org"
	"github.com/gourab8389/migrata-new/internal/reconcile"
)

// ChunkSize caps the records sent per insert or update call.
const ChunkSize = 10000

// maxRecordedErrors caps the per-object error sample kept in the outcome.
const maxRecordedErrors = 25

// Outcome aggregates the load result for one object type.
type Outcome struct {
	Object   string
	Inserted int
	Updated  int
	Failed   int
	Errors   []string
}

// Loader writes plans to the target, pacing calls and retrying retryable
// chunk failures with exponential backoff.
type Loader struct {
	limiter    *rate.Limiter
	maxRetries uint64
}

func NewLoader(ratePerSec float64) *Loader {
	l := &Loader{maxRetries: 3}
	if ratePerSec > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return l
}

// Load executes the plan's inserts then updates. Per-record rejections and
// exhausted chunk failures are counted into the outcome; a failed chunk
// never aborts the remaining chunks. Only context cancellation returns an
// error, alongside the partial outcome accumulated so far.
func (l *Loader) Load(ctx context.Context, target org.Connection, plan reconcile.Plan) (Outcome, error) {
	out := Outcome{Object: plan.Object}

	if err := l.push(ctx, &out, plan.Inserts, func(chunk []org.Record) ([]org.SaveResult, error) {
		return target.Insert(ctx, plan.Object, chunk)
	}, &out.Inserted); err != nil {
		return out, err
	}
	if err := l.push(ctx, &out, plan.Updates, func(chunk []org.Record) ([]org.SaveResult, error) {
		return target.Update(ctx, plan.Object, chunk)
	}, &out.Updated); err != nil {
		return out, err
	}
	log.Printf("bulkload: %s inserted=%d updated=%d failed=%d",
		plan.Object, out.Inserted, out.Updated, out.Failed)
	return out, nil
}

func (l *Loader) push(ctx context.Context, out *Outcome, records []org.Record, call func([]org.Record) ([]org.SaveResult, error), succeeded *int) error {
	for start := 0; start < len(records); start += ChunkSize {
		end := start + ChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var results []org.SaveResult
		op := func() error {
			var err error
			results, err = call(chunk)
			if err == nil {
				return nil
			}
			if _, retryable := org.Classify(err); !retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(chunkBackOff(), l.maxRetries), ctx)
		if err := backoff.Retry(op, policy); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			out.Failed += len(chunk)
			if len(out.Errors) < maxRecordedErrors {
				out.Errors = append(out.Errors, fmt.Sprintf("chunk %d-%d: %v", start, end, err))
			}
			continue
		}

		for i, r := range results {
			if r.Success {
				*succeeded++
				continue
			}
			out.Failed++
			if len(out.Errors) < maxRecordedErrors {
				out.Errors = append(out.Errors, fmt.Sprintf("record %d: %v", start+i, r.Errors))
			}
		}
	}
	return nil
}

func chunkBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}
