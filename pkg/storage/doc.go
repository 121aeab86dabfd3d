// Package storage selects and opens the body storage backend.
//
// # Backends
//
//   - postgres: bulk upsert into a single table; text bodies are full-text
//     indexed, expired rows are purged on a schedule. Reads use read replicas
//     when configured.
//   - s3: one object per body, uploaded concurrently; expiry is exposed as an
//     object tag for bucket lifecycle rules.
//   - inline: read-only projection of bodies stored inside processed-message
//     documents.
//   - memory: in-process map, for development.
//   - disabled: discards writes, finds nothing.
//
// Any backend can be wrapped in the read-through body cache (package cache)
// with an in-process LRU and an optional Redis tier.
//
// # Usage
//
//	backend, err := storage.Open(ctx, cfg.Storage, logger, metrics)
//	if err != nil {
//		return err
//	}
//	defer backend.Close()
//
//	if !backend.ReadOnly() {
//		engine, err = bodies.NewEngine(backend.Flusher, cfg.Engine)
//	}
//	result, err := backend.Reader.Fetch(ctx, id)
package storage
