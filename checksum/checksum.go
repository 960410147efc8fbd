// Package checksum implements the field checksums used by the floppy
// controllers whose formats are decoded here.
package checksum

// CRC16Init is the initial value of the IBM floppy CRC.
const CRC16Init = 0xFFFF

// crc16Poly is the CCITT polynomial x^16 + x^12 + x^5 + 1.
const crc16Poly = 0x1021

// The table is filled in once, during package initialisation.
var crc16Table = makeCRC16Table(crc16Poly)

func makeCRC16Table(poly uint16) *[256]uint16 {
	t := new([256]uint16)
	for i := range t {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// UpdateCRC16 continues a CRC-16/CCITT (MSB-first, no reflection)
// computation with more data.
func UpdateCRC16(crc uint16, data ...byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// CRC16 returns the CRC-16/CCITT of the data, with initial value 0xFFFF.
func CRC16(data []byte) uint16 {
	return UpdateCRC16(CRC16Init, data...)
}

// XOR returns all the bytes XORed together. This is the Commodore 1541
// header and data block checksum, and also the Apple address field
// checksum.
func XOR(data ...byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}

// Amiga returns the AmigaDOS checksum of a block: the XOR of all its
// big-endian longs, as they are stored odd/even split on disk, masked to
// the data bits. The data length must be a multiple of 4.
func Amiga(data []byte) uint32 {
	var x uint32
	for i := 0; i+4 <= len(data); i += 4 {
		v := uint32(data[i])<<24 | uint32(data[i+1])<<16 |
			uint32(data[i+2])<<8 | uint32(data[i+3])
		// The odd long holds v>>1, the even long holds v.
		x ^= v>>1 ^ v
	}
	return x & 0x55555555
}

// Chain is the running XOR used by Apple 6-and-2 data fields: each
// stored value is the XOR of the current and previous 6-bit values, so
// decoding XORs them back in, and a correct field ends at zero.
type Chain struct {
	last byte
}

// Next takes a stored value and returns the decoded value.
func (c *Chain) Next(stored byte) byte {
	c.last ^= stored
	return c.last
}

// Encode takes a value and returns what should be stored for it.
func (c *Chain) Encode(v byte) byte {
	s := v ^ c.last
	c.last = v
	return s
}

// Sum returns the current running value. After decoding a whole field
// including its checksum value, it is 0 if the field is intact.
func (c *Chain) Sum() byte {
	return c.last
}
