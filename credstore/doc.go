// Package credstore defines the secure credential store contract used by the
// session manager. A store holds at most one (identity, token) pair per named
// partition; the session manager uses the "auth" partition.
//
// # Implementations
//
//	memorystore : in-process map, used in tests and for ephemeral sessions
//	filestore   : one 0600 JSON file per partition under a directory
//	redisstore  : Redis hash per partition, optional TTL
//	kubestore   : Kubernetes Secret per partition
//	sealedstore : wraps any Store and encrypts identity and token at rest
//
// Every implementation is exercised by credstoretest.RunStoreTests.
//
// # Partitions
//
// The partition name given by the caller is always honoured. An empty name is
// rejected with ErrInvalidPartition rather than mapped to a default bucket.
package credstore
