// Package async provides a bounded worker pool for background work such as
// audit event delivery.
//
//	pool := async.NewWorkerPool(ctx, 2, 256, "audit", 5*time.Second, logger)
//	defer pool.Shutdown(10 * time.Second)
//
//	if err := pool.TrySubmit(func(ctx context.Context) error {
//		return sink.Log(ctx, event)
//	}); errors.Is(err, async.ErrQueueFull) {
//		// drop or retry
//	}
//
// Tasks run under a per-task timeout. Errors and panics are logged and
// counted by Failed; they never reach the submitter.
package async
