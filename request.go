package lowka

// Kafka 0.8 API keys relevant to this producer.
const (
	apiKeyProduce       int16 = 0
	apiKeyTopicMetadata int16 = 3
	produceAPIVersion   int16 = 0
	metadataAPIVersion  int16 = 0
)

// buildProduceRequest encodes one produce request (§4.4) into enc, which
// must wrap a buffer at least as large as the request (the caller - the
// sender, §4.8 - resets and reuses its send buffer between requests so this
// never allocates in steady state).
//
// msgSet is the already-framed, uncompressed message-set bytes from the
// active buffer (§4.7). When compressor is non-nil and not the none
// variant, msgSet is wrapped in a single outer compressed record per the
// "Compressed path" in §4.4; otherwise it is copied verbatim. scratch is a
// caller-owned, reused-across-calls buffer the compressed bytes are staged
// into before they are copied into enc - the outer crc32Field only sees
// bytes that pass through enc.write(), so the compressed value has to be
// fully sized before it is written rather than compressed in place behind a
// pushed length field, so that value_len is covered by the outer CRC like
// every other field in its scope.
func buildProduceRequest(enc *realEncoder, clientID string, correlationID int32, acks int16, timeoutMs int32, topic string, partition int32, msgSet []byte, compressor Compressor, scratch []byte) error {
	enc.push(&lengthField{}) // total_size

	enc.putInt16(apiKeyProduce)
	enc.putInt16(produceAPIVersion)
	enc.putInt32(correlationID)
	enc.putString(clientID)

	enc.putInt16(acks)
	enc.putInt32(timeoutMs)

	enc.putInt32(1) // topic_count
	enc.putString(topic)
	enc.putInt32(1) // partition_count
	enc.putInt32(partition)

	enc.push(&lengthField{}) // message_set_size

	if _, ok := compressor.(noneCompressor); ok || compressor == nil {
		enc.putRawBytes(msgSet)
	} else {
		n, err := compressor.Compress(scratch, msgSet)
		if err != nil {
			return err
		}

		enc.putInt64(0) // offset
		enc.push(&lengthField{})
		enc.push(&crc32Field{})
		enc.putInt8(0) // magic
		enc.putInt8(int8(compressor.AttributeByte()))
		enc.putBytes(nil)         // key
		enc.putBytes(scratch[:n]) // value_len + value, both through write() so the crc32Field above sees them

		if err := enc.pop(); err != nil { // crc32Field
			return err
		}
		if err := enc.pop(); err != nil { // message_size
			return err
		}
	}

	if err := enc.pop(); err != nil { // message_set_size
		return err
	}
	return enc.pop() // total_size
}
