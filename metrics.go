package lowka

// Meter is a monotonically increasing counter, e.g. "messages received".
type Meter interface {
	Mark(n int64)
}

// Gauge reports an instantaneous value, e.g. free buffer count, sampled by
// the registry whenever it is scraped or flushed.
type Gauge interface {
	Update(v int64)
}

// MetricsRegistry is the metrics sink a Producer reports into. It is an
// external collaborator: the core only ever calls Meter/Gauge/Unregister,
// never reaches into a specific backend.
type MetricsRegistry interface {
	// Meter returns (creating if necessary) the named meter.
	Meter(name string) Meter

	// Gauge registers a gauge backed by the supplied sampling function. The
	// function is invoked each time the registry's backend samples the
	// gauge (on scrape, or on flush, depending on backend).
	Gauge(name string, f func() int64) Gauge

	// Unregister removes a previously registered meter or gauge, e.g. on
	// Producer.Close.
	Unregister(name string)
}

// meterNames mirrors the four meter pairs called out in SPEC_FULL.md §6,
// scoped either to a single topic or to the package-wide total.
func meterNames(topic string) (received, sent, droppedQueueFull, droppedSendFail string) {
	prefix := "producer.topics." + topic + "."
	return prefix + "messages_received",
		prefix + "messages_sent",
		prefix + "dropped_queue_full",
		prefix + "dropped_send_fail"
}

const (
	totalReceivedMeter        = "producer.total.messages_received"
	totalSentMeter            = "producer.total.messages_sent"
	totalDroppedQueueFull     = "producer.total.dropped_queue_full"
	totalDroppedSendFail      = "producer.total.dropped_send_fail"
	perTopicFreeBuffersSuffix = ".free_buffers"
	sharedFreeBuffersGauge    = "producer.shared_free_buffers"
)

// noopRegistry discards everything. Used as a safe zero value so a Producer
// constructed with a nil registry never needs a nil check on the hot path.
type noopRegistry struct{}

type noopMeter struct{}

func (noopMeter) Mark(int64) {}

type noopGauge struct{}

func (noopGauge) Update(int64) {}

func (noopRegistry) Meter(string) Meter              { return noopMeter{} }
func (noopRegistry) Gauge(string, func() int64) Gauge { return noopGauge{} }
func (noopRegistry) Unregister(string)                {}

// NewNoopRegistry returns a MetricsRegistry that discards all input. Useful
// for tests and for hosts that have no metrics pipeline wired up yet.
func NewNoopRegistry() MetricsRegistry { return noopRegistry{} }
