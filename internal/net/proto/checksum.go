package proto

// Fletcher16 computes the position-dependent checksum used by desync
// probes. Runs over full serialized world state, so peers that diverge in
// any byte disagree with high probability.
func Fletcher16(data []byte) uint16 {
	var sum1, sum2 uint16
	for _, b := range data {
		sum1 = (sum1 + uint16(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return sum2<<8 | sum1
}
