package lowka

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors returned by the core send path. Callers should compare
// with errors.Is rather than on error string content.
var (
	// ErrQueueFull is returned when take(enqueueTimeoutMs) timed out waiting
	// for a free buffer.
	ErrQueueFull = errors.New("lowka: buffer pool exhausted, enqueue timed out")

	// ErrRecordTooLarge is returned when a record's framed size would not
	// fit even a freshly acquired message-set buffer.
	ErrRecordTooLarge = errors.New("lowka: record larger than message buffer size")

	// ErrCompressOverflow is returned when the compressed payload does not
	// fit the configured send buffer.
	ErrCompressOverflow = errors.New("lowka: compressed payload overflows send buffer")

	// ErrSocketIO marks a transport-level failure that is eligible for retry.
	ErrSocketIO = errors.New("lowka: socket I/O failure")

	// ErrProtocolDesync is returned when a response's correlation id does
	// not match the outstanding request.
	ErrProtocolDesync = errors.New("lowka: response correlation id mismatch")

	// ErrUnknownCompressionCodec is returned by newCompressor for an
	// unrecognized codec. NewProducer rejects an unrecognized
	// Config.Producer.Compression earlier, through Config.Validate's
	// aggregate error.
	ErrUnknownCompressionCodec = errors.New("lowka: unknown compression codec")

	// ErrSendAfterClose is returned (and logged) when Send is called on a
	// producer that has already been closed.
	ErrSendAfterClose = errors.New("lowka: send called after close")

	// ErrProducerClosed is returned by Close when called more than once.
	ErrProducerClosed = errors.New("lowka: producer already closed")

	// ErrNoSeedBrokers is returned by the metadata client's Fetch when it is
	// given no seed brokers. NewProducer rejects an empty Metadata.BrokerList
	// through Config.Validate's aggregate error.
	ErrNoSeedBrokers = errors.New("lowka: no seed brokers configured")

	// ErrLeaderNotAvailable is returned by the sender when the cached
	// metadata has no leader for the target partition.
	ErrLeaderNotAvailable = errors.New("lowka: partition leader not available")

	// ErrNoSuchTopic is returned by the metadata client when the requested
	// topic is absent from the response or carries a topic error code, and
	// by the sender when the cached metadata has no partitions for it.
	ErrNoSuchTopic = errors.New("lowka: topic not found in metadata response")
)

// BrokerError wraps a non-zero Kafka protocol error code returned in a
// produce response. It is treated the same as ErrSocketIO by the sender's
// retry loop: the code is logged and the connection is torn down.
type BrokerError struct {
	Code int16
}

func (e BrokerError) Error() string {
	return fmt.Sprintf("lowka: broker returned error code %d", e.Code)
}

// Is lets errors.Is(err, ErrSocketIO) succeed for BrokerError values, since
// the retry policy for both is identical.
func (e BrokerError) Is(target error) bool {
	return target == ErrSocketIO
}

// ProducerError pairs a dropped batch's record count with the error that
// caused it to be dropped. Close returns an aggregate of these when buffers
// were discarded during shutdown.
type ProducerError struct {
	Records int
	Err     error
}

func (e ProducerError) Error() string {
	return fmt.Sprintf("lowka: dropped %d record(s): %s", e.Records, e.Err)
}

// ProducerErrors is returned by Close when one or more batches were dropped
// while draining.
type ProducerErrors []ProducerError

func (pe ProducerErrors) Error() string {
	records := 0
	for _, e := range pe {
		records += e.Records
	}
	return fmt.Sprintf("lowka: %d record(s) dropped during shutdown", records)
}
