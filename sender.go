package lowka

import (
	"context"
	"sync/atomic"
	"time"
)

// senderState holds everything exclusively owned by the sender goroutine
// (§5): the connection to the current partition leader, the cached
// metadata snapshot, the reusable send/response buffers, and the
// correlation id and partition-rotation bookkeeping. Nothing outside
// senderLoop and the methods in this file touches these fields.
type senderState struct {
	conn        *connection
	reqBuf      []byte
	compressBuf []byte
	respBuf     *responseBuffer

	metadata            *Metadata
	lastMetadataRefresh time.Time

	correlationID               int32
	lastCorrelationIDCheckpoint int32

	partition         int32
	partitionModifier int32
	leader            Broker
}

func newSenderState(cfg *Config, clientID, topic string, compressor Compressor) senderState {
	readTimeout := time.Duration(cfg.Net.TimeoutMs+1000) * time.Millisecond
	return senderState{
		conn:        newConnection(cfg.Net.DialTimeout, readTimeout, cfg.Net.SendBufferSize),
		reqBuf:      make([]byte, cfg.Net.SendBufferSize),
		compressBuf: make([]byte, cfg.Net.SendBufferSize),
		respBuf:     newResponseBuffer(),
	}
}

// senderLoop is the C8 component. It pulls ready buffers off the channel,
// sends each with bounded retry, and exits once the producer is closed and
// the ready queue has been fully drained (§4.9).
func (p *Producer) senderLoop() {
	defer close(p.senderDone)

	for {
		var buf *messageSetBuffer
		select {
		case buf = <-p.ready:
		case <-time.After(time.Second):
			if p.isClosed() && len(p.ready) == 0 {
				return
			}
			continue
		}

		p.handleBuffer(buf)

		if p.isClosed() && len(p.ready) == 0 {
			return
		}
	}
}

// handleBuffer sends one batch to completion (success or retries exhausted)
// and always returns the buffer to the pool, maintaining the §8 invariant
// received_total = sent_total + dropped_queue_full_total +
// dropped_send_fail_total + in_flight.
func (p *Producer) handleBuffer(buf *messageSetBuffer) {
	defer func() {
		p.pool.release(buf)
		p.inFlight.Done()
		atomic.AddInt64(&p.inFlightCount, -1)
	}()

	if buf.empty() {
		return
	}

	n := int64(buf.count)
	attempts := 0

	for {
		err := p.sendOnce(buf)
		if err == nil {
			atomic.AddInt64(&p.sentTotal, n)
			p.sentMeter.Mark(n)
			p.totalSentMeter.Mark(n)
			return
		}

		p.logger.Printf("lowka: produce to %s attempt %d failed: %s", p.topic, attempts+1, err)
		attempts++
		// ErrCompressOverflow drops the batch without retrying (§7).
		if attempts > p.cfg.Producer.Retry.Max || err == ErrCompressOverflow {
			atomic.AddInt64(&p.droppedSendFailTotal, n)
			p.droppedSendFailMeter.Mark(n)
			p.totalDroppedSendFailMeter.Mark(n)
			return
		}

		time.Sleep(time.Duration(p.cfg.Producer.Retry.BackoffMs) * time.Millisecond)
		if err := p.updateMetaDataAndConnection(true); err != nil {
			p.logger.Printf("lowka: metadata refresh before retry failed: %s", err)
		}
	}
}

// quickRotateFloor is the minimum time between quick-rotate-triggered
// refreshes (§4.8 3f(ii)), independent of the RefreshIntervalMs-driven
// time-based trigger.
const quickRotateFloor = 30 * time.Second

// sendOnce encodes and writes exactly one produce request, waiting for a
// response unless RequiredAcks == 0 (§4.4, §4.6). A successful send always
// runs the §4.8 step-3f refresh check before returning, so a long-lived
// healthy connection still picks up metadata changes and partition rotation
// instead of only refreshing when the connection drops.
func (p *Producer) sendOnce(buf *messageSetBuffer) error {
	if p.send.conn == nil || !p.send.conn.isOpen() || p.send.metadata == nil {
		if err := p.updateMetaDataAndConnection(true); err != nil {
			return err
		}
	}

	p.send.correlationID++

	enc := newRealEncoder(p.send.reqBuf)
	err := buildProduceRequest(
		enc,
		p.clientID,
		p.send.correlationID,
		p.cfg.Producer.RequiredAcks,
		int32(p.cfg.Net.TimeoutMs),
		p.topic,
		p.send.partition,
		buf.bytes(),
		p.compressor,
		p.send.compressBuf,
	)
	if err != nil {
		return err
	}

	if err := p.send.conn.write(enc.raw()); err != nil {
		return err
	}

	if p.cfg.Producer.RequiredAcks != 0 {
		if _, err := readProduceResponse(p.send.conn, p.send.respBuf, p.send.correlationID); err != nil {
			return err
		}
	}

	p.maybeTriggerRefresh()
	return nil
}

// updateMetaDataAndConnection refreshes the cached metadata snapshot when
// forced, stale (§4.8's RefreshIntervalMs), or absent, recomputes the
// target partition and leader, and reconnects when the leader address has
// changed, the connection is closed, or a reconnect was forced (§9:
// reconnect-on-address-change is compared by host:port, not by pointer
// identity, resolving the distilled spec's Open Question about equality).
func (p *Producer) updateMetaDataAndConnection(force bool) error {
	needsRefresh := force || p.send.metadata == nil
	if p.cfg.Metadata.RefreshIntervalMs >= 0 {
		staleAfter := time.Duration(p.cfg.Metadata.RefreshIntervalMs) * time.Millisecond
		if time.Since(p.send.lastMetadataRefresh) >= staleAfter {
			needsRefresh = true
		}
	}

	if needsRefresh {
		if err := p.refreshMetadata(!force); err != nil {
			return err
		}
	}

	return p.resolvePartitionAndReconnect(force)
}

// refreshMetadata fetches a fresh metadata snapshot and, when rotate and
// rotatePartitions are both set, advances the partition modifier so the next
// resolved partition differs from the one this refresh started from (§4.8).
// Callers pass rotate=false for forced refreshes.
func (p *Producer) refreshMetadata(rotate bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(p.cfg.Metadata.ElectTimeoutMs)*time.Millisecond)
	md, err := p.metadataClient.Fetch(ctx, p.cfg.Metadata.BrokerList, p.topic, p.clientID)
	cancel()
	if err != nil {
		return err
	}

	p.send.metadata = md
	p.send.lastMetadataRefresh = time.Now()
	p.send.lastCorrelationIDCheckpoint = p.send.correlationID

	if rotate && p.rotatePartitions {
		if numPartitions, ok := md.Partitions(p.topic); ok && numPartitions > 0 {
			p.send.partitionModifier = (p.send.partitionModifier + 1) % numPartitions
		}
	}
	return nil
}

// resolvePartitionAndReconnect recomputes the target partition and leader
// from the cached metadata and reconnects when forced, the leader address
// changed, or the connection is closed.
func (p *Producer) resolvePartitionAndReconnect(forceReconnect bool) error {
	numPartitions, ok := p.send.metadata.Partitions(p.topic)
	if !ok || numPartitions <= 0 {
		return ErrNoSuchTopic
	}

	partition := partitionOf(p.key, p.send.partitionModifier, numPartitions)
	leader, ok := p.send.metadata.Leader(p.topic, partition)
	if !ok {
		return ErrLeaderNotAvailable
	}

	addrChanged := leader.Addr() != p.send.leader.Addr()
	p.send.partition = partition
	p.send.leader = leader

	if forceReconnect || addrChanged || !p.send.conn.isOpen() {
		return p.send.conn.dial(leader.Addr())
	}
	return nil
}

// maybeTriggerRefresh implements §4.8 step 3f: after a successful send,
// either the time-based trigger (RefreshIntervalMs elapsed) or the
// quick-rotate trigger (more than quickRotateBlocks requests since the last
// refresh, and at least quickRotateFloor elapsed) refreshes metadata and
// reconnects if the leader moved, so staleness and partition rotation are
// re-evaluated on an otherwise healthy connection instead of only when the
// connection or metadata is absent. Failures here are logged rather than
// propagated - the batch that triggered this check has already been sent
// successfully.
func (p *Producer) maybeTriggerRefresh() {
	if p.send.metadata == nil {
		return
	}

	elapsed := time.Since(p.send.lastMetadataRefresh)
	timeTrigger := p.cfg.Metadata.RefreshIntervalMs >= 0 &&
		elapsed >= time.Duration(p.cfg.Metadata.RefreshIntervalMs)*time.Millisecond
	quickTrigger := p.quickRotate &&
		p.send.correlationID-p.send.lastCorrelationIDCheckpoint > p.quickRotateBlocks &&
		elapsed >= quickRotateFloor

	if !timeTrigger && !quickTrigger {
		return
	}

	if err := p.refreshMetadata(true); err != nil {
		p.logger.Printf("lowka: periodic metadata refresh for %s failed: %s", p.topic, err)
		return
	}
	if err := p.resolvePartitionAndReconnect(false); err != nil {
		p.logger.Printf("lowka: reconnect after metadata refresh for %s failed: %s", p.topic, err)
	}
}
