// Package session persists conversations as JSON documents, one file per
// session.
//
// Invariants:
// - Session ids are validated and path-safe.
// - Writes for the same session are serialized and atomic.
// - Loaded documents satisfy conversation chain integrity.
//
// Usage:
//
//	mgr, _ := session.New("/tmp/coda/sessions")
//	_ = mgr.Save(ctx, store)
//	doc, _ := mgr.Load(ctx, store.Metadata().SessionID)
//	_ = store.Restore(doc.Snapshot())
package session
