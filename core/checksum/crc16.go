package checksum

const (
	// CRC16Polynomial is the CCITT generator polynomial.
	CRC16Polynomial = 0x1021
	// CRC16InitialValue is the register seed, and the result for empty input.
	CRC16InitialValue uint16 = 0xFFFF
)

var crc16Table = makeCRC16Table()

func makeCRC16Table() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ CRC16Polynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16CCITT computes the CRC-16/CCITT-FALSE checksum of data
// (polynomial 0x1021, seed 0xFFFF, no reflection, no final XOR).
// This matches crc16_compute in the device firmware.
func CRC16CCITT(data []byte) uint16 {
	return UpdateCRC16(CRC16InitialValue, data)
}

// UpdateCRC16 continues a CRC-16/CCITT computation from a previous value.
func UpdateCRC16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}
