// Package orchestrator drives the per-entity bulk job lifecycles.
//
// Entities are processed strictly one at a time, in the order given. For an
// ingest the lifecycle is create, upload, close, poll until terminal, then
// fetch the accepted and rejected records concurrently and hand the entity to
// the result collector. For a query it is create, poll until terminal, then
// page through the results.
//
// Every stage call receives a RunContext carrying the environment clients,
// the snapshot store and the per-run settings. Nothing is kept in package
// state.
package orchestrator
