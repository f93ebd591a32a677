package lowka

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProducerOption configures a Producer at construction time. See the
// REDESIGN FLAG in SPEC_FULL.md §9 for why this replaces the distilled
// spec's positional rotatePartitions/quickRotate/quickRotateMessageBlocks/
// metrics constructor parameters.
type ProducerOption func(*Producer)

// WithRotatePartitions enables per-refresh partition rotation (§4.8).
func WithRotatePartitions() ProducerOption {
	return func(p *Producer) { p.rotatePartitions = true }
}

// WithQuickRotate enables the request-count-driven rotation trigger with
// threshold Q = blocks, in addition to any time-based refresh (§4.8).
func WithQuickRotate(blocks int) ProducerOption {
	return func(p *Producer) {
		p.quickRotate = true
		p.quickRotateBlocks = int32(blocks)
	}
}

// WithMetricsRegistry overrides the default no-op MetricsRegistry.
func WithMetricsRegistry(reg MetricsRegistry) ProducerOption {
	return func(p *Producer) { p.metrics = reg }
}

// WithLogger sets the logger this producer's ingest and sender paths write
// to, in place of the package-level Logger; the package-level Logger
// remains the default for every other producer in the process.
func WithLogger(l StdLogger) ProducerOption {
	return func(p *Producer) { p.logger = l }
}

// WithMetadataClient overrides the default TCP MetadataClient, primarily
// for tests that fake broker responses.
func WithMetadataClient(mc MetadataClient) ProducerOption {
	return func(p *Producer) { p.metadataClient = mc }
}

// Producer is bound to exactly one (topic, partitioning key) pair (§3). All
// bound parameters are immutable after NewProducer returns; construct a new
// Producer for a different topic or key.
type Producer struct {
	cfg      *Config
	clientID string
	topic    string
	key      []byte

	rotatePartitions  bool
	quickRotate       bool
	quickRotateBlocks int32

	pool           *bufferPool
	sharedPool     bool
	compressor     Compressor
	metadataClient MetadataClient
	metrics        MetricsRegistry
	logger         StdLogger

	// Ingest-side state (C7), guarded by mu - "at most one ingest call
	// progresses at a time for a given producer instance" (§4.6).
	mu     sync.Mutex
	active *messageSetBuffer
	ready  chan *messageSetBuffer

	inFlight      SafeWaitGroup
	inFlightCount int64

	receivedTotal         int64
	sentTotal             int64
	droppedQueueFullTotal int64
	droppedSendFailTotal  int64

	receivedMeter         Meter
	sentMeter             Meter
	droppedQueueFullMeter Meter
	droppedSendFailMeter  Meter

	totalReceivedMeter         Meter
	totalSentMeter             Meter
	totalDroppedQueueFullMeter Meter
	totalDroppedSendFailMeter  Meter

	freeBuffersGaugeName string

	closed     int32
	closeOnce  sync.Once
	senderWake chan struct{}
	senderDone chan struct{}
	stopTimers chan struct{}

	// sender-owned state (§5: "exclusively owned by the sender goroutine
	// except for buffer handoff through the two bounded channels")
	send senderState
}

// NewProducer constructs a Producer bound to (topic, key). cfg is validated
// before anything else is constructed; an invalid compression codec or
// missing seed broker list fails fast here rather than surfacing on the
// first Send.
func NewProducer(cfg *Config, clientID, topic, key string, opts ...ProducerOption) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	compressor, err := newCompressor(cfg.Producer.Compression, cfg.Producer.CompressionLevel)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		cfg:            cfg,
		clientID:       clientID,
		topic:          topic,
		key:            []byte(key),
		compressor:     compressor,
		metadataClient: NewMetadataClient(cfg.Net.DialTimeout),
		metrics:        NewNoopRegistry(),
		logger:         Logger,
		ready:          make(chan *messageSetBuffer, cfg.Producer.NumBuffers),
		senderWake:     make(chan struct{}, 1),
		senderDone:     make(chan struct{}),
		stopTimers:     make(chan struct{}),
	}

	// Config.Producer.RotatePartitions/QuickRotateMessageBlocks are the
	// config-file-driven way to turn on rotation (§6); the With* options
	// below are the programmatic way, and take precedence when both are set.
	switch cfg.Producer.RotatePartitions {
	case RotationPerRefresh:
		p.rotatePartitions = true
	case RotationQuick:
		p.rotatePartitions = true
		p.quickRotate = true
		p.quickRotateBlocks = cfg.Producer.QuickRotateMessageBlocks
	}

	for _, opt := range opts {
		opt(p)
	}

	registerFreeBuffersGauge := true
	if cfg.Producer.UseSharedBuffers {
		pool, first := sharedBufferPool(cfg.Producer.NumBuffers, cfg.Producer.MessageBufferSize)
		p.pool = pool
		p.sharedPool = true
		registerFreeBuffersGauge = first
	} else {
		p.pool = newBufferPool(cfg.Producer.NumBuffers, cfg.Producer.MessageBufferSize)
	}

	p.receivedMeter, p.sentMeter, p.droppedQueueFullMeter, p.droppedSendFailMeter = p.registerTopicMeters()
	p.totalReceivedMeter = p.metrics.Meter(totalReceivedMeter)
	p.totalSentMeter = p.metrics.Meter(totalSentMeter)
	p.totalDroppedQueueFullMeter = p.metrics.Meter(totalDroppedQueueFull)
	p.totalDroppedSendFailMeter = p.metrics.Meter(totalDroppedSendFail)

	p.freeBuffersGaugeName = "producer.topics." + topic + perTopicFreeBuffersSuffix
	if p.sharedPool {
		p.freeBuffersGaugeName = sharedFreeBuffersGauge
	}
	if registerFreeBuffersGauge {
		p.metrics.Gauge(p.freeBuffersGaugeName, p.pool.freeCount)
	}

	p.send = newSenderState(cfg, clientID, topic, compressor)

	go withRecover(p.senderLoop)
	go withRecover(p.flushTimerLoop)
	go withRecover(p.supervisorLoop)

	return p, nil
}

func (p *Producer) registerTopicMeters() (received, sent, droppedQueueFull, droppedSendFail Meter) {
	r, s, dqf, dsf := meterNames(p.topic)
	return p.metrics.Meter(r), p.metrics.Meter(s), p.metrics.Meter(dqf), p.metrics.Meter(dsf)
}

func (p *Producer) isClosed() bool {
	return atomic.LoadInt32(&p.closed) != 0
}

// Send appends payload as one record into the active buffer, rotating to a
// fresh buffer when the current one cannot hold it (§4.6). A nil payload is
// a flush hint: it enqueues the active buffer (if non-empty) without
// appending a record.
func (p *Producer) Send(payload []byte) error {
	if p.isClosed() {
		p.logger.Println("lowka: send called after close, ignoring")
		return ErrSendAfterClose
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if payload == nil {
		if p.active != nil && !p.active.empty() {
			p.enqueueActiveLocked()
		}
		return nil
	}

	size := recordSize(len(p.key), len(payload))
	if size > p.cfg.Producer.MessageBufferSize {
		return ErrRecordTooLarge
	}

	if p.active == nil {
		if err := p.acquireActiveLocked(); err != nil {
			return err
		}
	}

	if p.active.remaining() < size {
		p.enqueueActiveLocked()
		if err := p.acquireActiveLocked(); err != nil {
			return err
		}
	}

	p.active.appendRecord(p.key, payload)

	atomic.AddInt64(&p.receivedTotal, 1)
	p.receivedMeter.Mark(1)
	p.totalReceivedMeter.Mark(1)
	return nil
}

func (p *Producer) acquireActiveLocked() error {
	buf, err := p.pool.take(p.cfg.Producer.EnqueueTimeoutMs)
	if err != nil {
		atomic.AddInt64(&p.droppedQueueFullTotal, 1)
		p.droppedQueueFullMeter.Mark(1)
		p.totalDroppedQueueFullMeter.Mark(1)
		return ErrQueueFull
	}
	p.active = buf
	return nil
}

func (p *Producer) enqueueActiveLocked() {
	buf := p.active
	p.active = nil

	p.inFlight.Add(1)
	atomic.AddInt64(&p.inFlightCount, 1)
	p.ready <- buf

	select {
	case p.senderWake <- struct{}{}:
	default:
	}
}

// Close stops accepting new records, drains whatever is already buffered,
// and waits for the sender goroutine to exit (§4.9). It returns an
// aggregate ProducerErrors if any batches were dropped while draining.
func (p *Producer) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return ErrProducerClosed
	}
	droppedBefore := atomic.LoadInt64(&p.droppedSendFailTotal)

	close(p.stopTimers)

	p.mu.Lock()
	if p.active != nil {
		// Enqueue even an empty buffer so the sender observes "closed and
		// ready queue drained" and exits, per §4.9.
		p.enqueueActiveLocked()
	} else {
		// No active buffer: hand the sender an empty one so it can notice
		// closure deterministically instead of relying on the 1s poll.
		if buf, err := p.pool.take(0); err == nil {
			p.inFlight.Add(1)
			atomic.AddInt64(&p.inFlightCount, 1)
			p.ready <- buf
		}
	}
	p.mu.Unlock()

	p.inFlight.Wait()
	<-p.senderDone

	if !p.sharedPool {
		p.metrics.Unregister(p.freeBuffersGaugeName)
	}

	dropped := atomic.LoadInt64(&p.droppedSendFailTotal) - droppedBefore
	if dropped > 0 {
		return ProducerErrors{{Records: int(dropped), Err: ErrSocketIO}}
	}
	return nil
}

// flushTimerLoop synthesizes a flush tick (Send(nil)) every
// Producer.FlushMs, bounding batch latency for low-traffic topics (§4.6).
func (p *Producer) flushTimerLoop() {
	if p.cfg.Producer.FlushMs <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(p.cfg.Producer.FlushMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = p.Send(nil)
		case <-p.stopTimers:
			return
		}
	}
}

// supervisorLoop is the once-a-minute safety net described in §4.8 and §9:
// withRecover keeps a panic in senderLoop from crashing the process, but the
// sender goroutine still exits; when the supervisor finds it has exited
// while the producer is open, it restarts it without losing whatever is
// already queued in p.ready.
func (p *Producer) supervisorLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case <-p.senderDone:
				if !p.isClosed() {
					p.logger.Println("lowka: sender goroutine found dead, restarting")
					p.senderDone = make(chan struct{})
					go withRecover(p.senderLoop)
				}
			default:
			}
		case <-p.stopTimers:
			return
		}
	}
}
