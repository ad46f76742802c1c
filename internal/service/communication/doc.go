// Package communication implements the campaign send lifecycle.
//
// The Service owns the full lifecycle of sending one communication:
// claiming the sending status (at most one concurrent send per campaign),
// driving the batch dispatcher across all pending recipients, persisting
// running counters after every batch, and aggregating the final campaign
// outcome. Partial failure never aborts the remaining batches.
//
// The service depends on repository interfaces defined in this package
// and should never import from api/. Repository implementations live in
// repository/postgres/.
package communication
