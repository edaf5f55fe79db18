// Package memorystore provides an in-memory credstore.Store implementation
// suitable for tests, development, and sessions that should not outlive the
// process. All state is discarded on process exit.
//
// Characteristics
//
//	Durability   : none (RAM only)
//	Expiry       : honoured lazily on Get
//	Concurrency  : safe (RWMutex)
//
// Example:
//
//	store := memorystore.New()
//	mgr := session.NewManager(provider, store, api)
package memorystore
