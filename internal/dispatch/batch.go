package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"textgate/internal/llm"
	"textgate/internal/metrics"
	"textgate/pkg/logging"
)

// MaxBatchSize is the hard cap enforced before any item is dispatched.
const MaxBatchSize = 10

// BatchItemResult records one item's outcome at its original index.
type BatchItemResult struct {
	Index  int
	Result *llm.GenerationResult
	Err    *llm.GenerationError
}

// Succeeded reports whether the item produced a result.
func (r BatchItemResult) Succeeded() bool {
	return r.Err == nil
}

// BatchResult aggregates a whole run. Items[i] always corresponds to the
// i-th input request regardless of completion order.
type BatchResult struct {
	Items        []BatchItemResult
	SuccessCount int
	FailureCount int
	Elapsed      time.Duration
}

// RunBatch dispatches every request concurrently and waits for all of them
// to settle. Item failures are isolated: they are recorded at the item's
// index and never cancel or delay the rest. Only the pre-dispatch size
// check can fail the batch wholesale.
func (d *Dispatcher) RunBatch(ctx context.Context, reqs []llm.GenerationRequest) (*BatchResult, error) {
	if len(reqs) > MaxBatchSize {
		return nil, llm.InvalidInputError("batch size %d exceeds the limit of %d", len(reqs), MaxBatchSize)
	}

	start := time.Now()
	logger := logging.L(ctx)
	items := make([]BatchItemResult, len(reqs))

	// Issued calls are bounded by the per-attempt timeout, not by the
	// caller's context: abandoning the batch does not stop them.
	itemCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req llm.GenerationRequest) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					items[i] = BatchItemResult{
						Index: i,
						Err:   &llm.GenerationError{Kind: llm.KindUnknown, Message: fmt.Sprintf("panic: %v", rec)},
					}
				}
			}()

			result, err := d.Dispatch(itemCtx, req, Options{Operation: "batch_item"})
			if err != nil {
				items[i] = BatchItemResult{Index: i, Err: llm.Classify(err)}
				return
			}
			items[i] = BatchItemResult{Index: i, Result: result}
		}(i, req)
	}
	wg.Wait()

	out := &BatchResult{
		Items:   items,
		Elapsed: time.Since(start),
	}
	for _, item := range items {
		if item.Succeeded() {
			out.SuccessCount++
		} else {
			out.FailureCount++
		}
	}

	userID := llm.AnonymousUser
	if len(reqs) > 0 && reqs[0].UserID != "" {
		userID = reqs[0].UserID
	}
	d.sink.RecordBatch(metrics.BatchRecord{
		UserID:       userID,
		Size:         len(reqs),
		SuccessCount: out.SuccessCount,
		FailureCount: out.FailureCount,
		Elapsed:      out.Elapsed,
	})

	logger.Info("batch completed",
		zap.Int("size", len(reqs)),
		zap.Int("success_count", out.SuccessCount),
		zap.Int("failure_count", out.FailureCount),
		zap.Duration("duration", out.Elapsed),
	)

	return out, nil
}
