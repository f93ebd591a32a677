package lowka

// hashKey implements the murmur2 variant used by Kafka's default
// partitioner (https://github.com/aappleby/smhasher MurmurHash2, 32-bit,
// seed 0x9747b28c). It is read byte-by-byte rather than through an unsafe
// pointer cast over the input slice, so it is safe for any key length and
// any slice alignment - the domain's own murmur2 partitioners rely on
// unsafe casts, which break on unaligned or sub-4-byte remainders.
//
// The result is deterministic for a given key within (and across) process
// lifetimes, satisfying the "stable, implementation-defined integer hash"
// requirement without depending on any particular external hash family.
func hashKey(key []byte) uint32 {
	const (
		m    = uint32(0x5bd1e995)
		r    = uint32(24)
		seed = uint32(0x9747b28c)
	)

	length := len(key)
	h := seed ^ uint32(length)

	i := 0
	for length >= 4 {
		k := uint32(key[i]) | uint32(key[i+1])<<8 | uint32(key[i+2])<<16 | uint32(key[i+3])<<24
		k *= m
		k ^= k >> r
		k *= m

		h *= m
		h ^= k

		i += 4
		length -= 4
	}

	switch length {
	case 3:
		h ^= uint32(key[i+2]) << 16
		fallthrough
	case 2:
		h ^= uint32(key[i+1]) << 8
		fallthrough
	case 1:
		h ^= uint32(key[i])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15

	return h
}

// partitionOf applies SPEC_FULL.md §4.5's partition formula: hashKey(key)
// masked to its low 31 bits (so it is non-negative), plus an optional
// rotation modifier, modulo the partition count. numPartitions must be > 0.
func partitionOf(key []byte, modifier, numPartitions int32) int32 {
	h := int32(hashKey(key) & 0x7fffffff)
	p := (h + modifier) % numPartitions
	if p < 0 {
		p += numPartitions
	}
	return p
}
