package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// MaxBatchSize bounds the number of submissions in a single Batch call.
const MaxBatchSize = 100

type BatchItem struct {
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
	// set when Error is, so callers can tell bad input from system failure
	ClientError bool `json:"client_error,omitempty"`
}

// Batch analyzes submissions concurrently. Results are returned in submission order; a failure of one
// item does not affect the others.
func (p *Pipeline) Batch(ctx context.Context, subs []Submission) ([]BatchItem, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", ErrInvalidSubmission)
	}
	if len(subs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch larger than %d items", ErrInvalidSubmission, MaxBatchSize)
	}

	ctx, span := tracer.Start(ctx, "Batch", trace.WithAttributes(attribute.Int("batch_size", len(subs))))
	defer span.End()

	out := make([]BatchItem, len(subs))
	sem := semaphore.NewWeighted(int64(p.batchConcurrency))
	var wg sync.WaitGroup
	for i, sub := range subs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// cancelled; the remaining items are reported as failed
			for j := i; j < len(subs); j++ {
				out[j] = BatchItem{Error: err.Error()}
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			res, err := p.Analyze(ctx, sub)
			if err != nil {
				out[i] = BatchItem{Error: err.Error(), ClientError: IsClientError(err)}
				return
			}
			out[i] = BatchItem{Result: res}
		}()
	}
	wg.Wait()
	return out, nil
}
