// Package bulkapi is a small REST client for the platform's data API: sobject
// describe, aggregate SOQL queries, and Bulk API 2.0 ingest and query jobs.
//
// The client is built on resty and throttled by a token bucket limiter. It
// never retries; every transport error and every unexpected status is
// returned to the caller.
package bulkapi
