package checksum

const fletcherModulus = 0xFFFF

// Fletcher32 computes the Fletcher-32 checksum of data, matching the
// firmware's Fletcher(). Data is summed as little-endian 16-bit words; an
// odd trailing byte is treated as a word with a zero high byte.
func Fletcher32(data []byte) uint32 {
	return UpdateFletcher32(0, data)
}

// UpdateFletcher32 continues a Fletcher-32 computation from a previous value.
// Continuation is only exact when the previous input had an even length.
func UpdateFletcher32(prev uint32, data []byte) uint32 {
	sum1 := prev & 0xFFFF
	sum2 := prev >> 16

	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		word := uint32(data[i]) | uint32(data[i+1])<<8
		sum1 = (sum1 + word) % fletcherModulus
		sum2 = (sum2 + sum1) % fletcherModulus
	}
	if n%2 != 0 {
		sum1 = (sum1 + uint32(data[n-1])) % fletcherModulus
		sum2 = (sum2 + sum1) % fletcherModulus
	}

	return sum2<<16 | sum1
}

// Fletcher32Low returns the low 16 bits of Fletcher32(data), the form used
// wherever a header field only has room for a 16-bit checksum.
func Fletcher32Low(data []byte) uint16 {
	return uint16(Fletcher32(data) & 0xFFFF)
}
