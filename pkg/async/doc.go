// Package async runs background work without letting a panic or an error
// take the process down.
//
// SafeGo starts one goroutine, optionally bounded by a timeout:
//
//	done := async.SafeGo(ctx, logger, 0, "enablement invalidation listener", listener.Listen)
//
// Batch fans a slice out over a bounded number of workers and collects the
// errors:
//
//	errs := async.Batch(ctx, userIDs, 8, 5*time.Second, func(ctx context.Context, id string) error {
//		return resync(ctx, id)
//	})
package async
