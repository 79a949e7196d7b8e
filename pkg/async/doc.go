// Package async runs fire-and-forget background work with a bounded
// lifetime and an explicit result channel.
//
//	errCh := async.Go(ctx, 5*time.Second, "login activity", logger, func(ctx context.Context) error {
//		return store.Insert(ctx, entry)
//	})
//
// The task's failure is logged and delivered on errCh; nothing is propagated
// to the scheduling caller. Panics are recovered and surface as *PanicError.
package async
