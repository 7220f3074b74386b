// Package inmemorystore provides a thread-safe, in-memory implementation
// of the entitystore.Store interface. It is suitable for development, testing,
// or any scenario where snapshots do not need to outlive the process.
package inmemorystore
