package lowka

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Broker identifies a partition leader's network endpoint.
type Broker struct {
	host string
	port int32
}

func (b Broker) Host() string { return b.host }
func (b Broker) Port() int32  { return b.port }

// Addr returns the host:port form suitable for net.Dial.
func (b Broker) Addr() string { return fmt.Sprintf("%s:%d", b.host, b.port) }

// Metadata is the C4 snapshot: topic -> (partition count, partition ->
// leader broker).
type Metadata struct {
	partitionCounts map[string]int32
	leaders         map[string]map[int32]Broker
}

// Partitions reports the partition count for topic, if known.
func (m *Metadata) Partitions(topic string) (int32, bool) {
	n, ok := m.partitionCounts[topic]
	return n, ok
}

// Leader reports the broker currently leading (topic, partition).
func (m *Metadata) Leader(topic string, partition int32) (Broker, bool) {
	parts, ok := m.leaders[topic]
	if !ok {
		return Broker{}, false
	}
	b, ok := parts[partition]
	return b, ok
}

// MetadataClient is the C4 interface: the core only ever calls Fetch and
// reads the returned snapshot through Metadata's accessors. Discovery and
// refresh mechanics (which seed broker answered, how errors are retried at
// the transport level) are internal to the concrete implementation.
type MetadataClient interface {
	Fetch(ctx context.Context, seedBrokers []string, topic string, clientID string) (*Metadata, error)
}

// tcpMetadataClient implements MetadataClient by opening a short-lived
// connection to the first reachable seed broker and issuing a
// TopicMetadata request, reusing the same packet encoder/decoder the
// produce path uses (§4.3).
type tcpMetadataClient struct {
	dialTimeout time.Duration
}

// NewMetadataClient returns the package's default MetadataClient.
func NewMetadataClient(dialTimeout time.Duration) MetadataClient {
	return &tcpMetadataClient{dialTimeout: dialTimeout}
}

func (c *tcpMetadataClient) Fetch(ctx context.Context, seedBrokers []string, topic string, clientID string) (*Metadata, error) {
	if len(seedBrokers) == 0 {
		return nil, ErrNoSeedBrokers
	}

	var lastErr error
	for _, addr := range seedBrokers {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		md, err := c.fetchFrom(addr, topic, clientID)
		if err == nil {
			return md, nil
		}
		lastErr = err
		Logger.Printf("lowka: metadata fetch from seed broker %s failed: %s", addr, err)
	}
	return nil, errors.Wrap(lastErr, "lowka: all seed brokers failed to answer metadata request")
}

func (c *tcpMetadataClient) fetchFrom(addr, topic, clientID string) (*Metadata, error) {
	conn := newConnection(c.dialTimeout, c.dialTimeout, 0)
	if err := conn.dial(addr); err != nil {
		return nil, err
	}
	defer conn.close()

	req := make([]byte, 256+len(topic)+len(clientID))
	enc := newRealEncoder(req)
	enc.push(&lengthField{})
	enc.putInt16(apiKeyTopicMetadata)
	enc.putInt16(metadataAPIVersion)
	enc.putInt32(0) // correlation id: metadata fetches are not pipelined
	enc.putString(clientID)
	enc.putInt32(1) // topic_count
	enc.putString(topic)
	if err := enc.pop(); err != nil {
		return nil, err
	}

	if err := conn.write(enc.raw()); err != nil {
		return nil, err
	}

	var sizeBuf [4]byte
	if err := conn.readFull(sizeBuf[:]); err != nil {
		return nil, err
	}
	size, err := newRealDecoder(sizeBuf[:]).getInt32()
	if err != nil || size < 0 {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding metadata response size")
	}

	body := make([]byte, size)
	if err := conn.readFull(body); err != nil {
		return nil, err
	}

	return decodeMetadataResponse(body, topic)
}

func decodeMetadataResponse(body []byte, topic string) (*Metadata, error) {
	dec := newRealDecoder(body)

	if _, err := dec.getInt32(); err != nil { // correlation id, unused here
		return nil, errors.Wrap(ErrProtocolDesync, "decoding metadata correlation id")
	}

	brokerCount, err := dec.getInt32()
	if err != nil {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding broker count")
	}
	brokersByID := make(map[int32]Broker, brokerCount)
	for i := int32(0); i < brokerCount; i++ {
		nodeID, err := dec.getInt32()
		if err != nil {
			return nil, errors.Wrap(ErrProtocolDesync, "decoding broker node id")
		}
		host, err := dec.getString()
		if err != nil {
			return nil, errors.Wrap(ErrProtocolDesync, "decoding broker host")
		}
		port, err := dec.getInt32()
		if err != nil {
			return nil, errors.Wrap(ErrProtocolDesync, "decoding broker port")
		}
		brokersByID[nodeID] = Broker{host: host, port: port}
	}

	topicCount, err := dec.getInt32()
	if err != nil {
		return nil, errors.Wrap(ErrProtocolDesync, "decoding topic metadata count")
	}

	md := &Metadata{
		partitionCounts: make(map[string]int32, topicCount),
		leaders:         make(map[string]map[int32]Broker, topicCount),
	}

	found := false
	for i := int32(0); i < topicCount; i++ {
		topicErr, err := dec.getInt16()
		if err != nil {
			return nil, errors.Wrap(ErrProtocolDesync, "decoding topic error code")
		}
		topicName, err := dec.getString()
		if err != nil {
			return nil, errors.Wrap(ErrProtocolDesync, "decoding topic name")
		}
		partitionCount, err := dec.getInt32()
		if err != nil {
			return nil, errors.Wrap(ErrProtocolDesync, "decoding partition metadata count")
		}

		leaders := make(map[int32]Broker, partitionCount)
		for j := int32(0); j < partitionCount; j++ {
			if _, err := dec.getInt16(); err != nil { // partition error code
				return nil, errors.Wrap(ErrProtocolDesync, "decoding partition error code")
			}
			partitionID, err := dec.getInt32()
			if err != nil {
				return nil, errors.Wrap(ErrProtocolDesync, "decoding partition id")
			}
			leaderID, err := dec.getInt32()
			if err != nil {
				return nil, errors.Wrap(ErrProtocolDesync, "decoding leader id")
			}

			if err := skipReplicaArray(dec); err != nil { // replicas
				return nil, err
			}
			if err := skipReplicaArray(dec); err != nil { // isr
				return nil, err
			}

			if leaderID >= 0 {
				if b, ok := brokersByID[leaderID]; ok {
					leaders[partitionID] = b
				}
			}
		}

		md.partitionCounts[topicName] = partitionCount
		md.leaders[topicName] = leaders

		if topicName == topic {
			found = true
			if topicErr != 0 {
				return nil, errors.Wrapf(ErrNoSuchTopic, "topic %s metadata error code %d", topic, topicErr)
			}
		}
	}

	if !found {
		return nil, errors.Wrapf(ErrNoSuchTopic, "topic %s absent from metadata response", topic)
	}
	return md, nil
}

func skipReplicaArray(dec *realDecoder) error {
	n, err := dec.getInt32()
	if err != nil {
		return errors.Wrap(ErrProtocolDesync, "decoding replica/isr array length")
	}
	for i := int32(0); i < n; i++ {
		if _, err := dec.getInt32(); err != nil {
			return errors.Wrap(ErrProtocolDesync, "decoding replica/isr entry")
		}
	}
	return nil
}
