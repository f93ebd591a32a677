// Package lowka implements a low-allocation, asynchronous producer client
// for a single (topic, partitioning key) pair against a Kafka 0.8 compatible
// broker cluster.
//
// A Producer owns a fixed pool of reusable message-set buffers, an ingest
// path that appends framed records into the active buffer, and a sender
// goroutine that batches, compresses, frames and transmits buffers to the
// current partition leader, retrying and refreshing metadata on failure.
package lowka
