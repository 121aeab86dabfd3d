// Package bodies implements the message body write path: a non-blocking
// Writer in front of a bounded batching pipeline that flushes to a pluggable
// storage backend, plus the Reader contract for point lookups.
//
// Typical use:
//
//	engine, err := bodies.NewEngine(store, bodies.DefaultConfig(),
//	    bodies.WithLogger(logger),
//	    bodies.WithMetrics(metrics, "postgres"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	defer engine.Stop(shutdownCtx)
//
//	err = engine.Write(ctx, msgID, "application/json", payload, time.Now().Add(30*24*time.Hour))
//
// Delivery is at-least-once per admitted body while the backend is
// reachable. Batches that still fail after the backend's RetryPolicy gives
// up are logged and dropped.
package bodies
