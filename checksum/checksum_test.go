package checksum

import (
	"testing"
)

func TestCRC16CheckValue(t *testing.T) {
	if got := CRC16([]byte("123456789")); got != 0x29B1 {
		t.Fatalf("CRC16(123456789) = %#04x, want 0x29b1", got)
	}
}

func TestCRC16Incremental(t *testing.T) {
	data := []byte{0xA1, 0xA1, 0xA1, 0xFE, 0x00, 0x00, 0x01, 0x02}
	whole := CRC16(data)
	part := UpdateCRC16(UpdateCRC16(CRC16Init, data[:3]...), data[3:]...)
	if whole != part {
		t.Fatalf("incremental %#04x != whole %#04x", part, whole)
	}
	// Appending the CRC big-endian gives a zero remainder.
	if r := UpdateCRC16(whole, byte(whole>>8), byte(whole)); r != 0 {
		t.Errorf("residue = %#04x, want 0", r)
	}
}

func TestCRC16KnownIDField(t *testing.T) {
	// Track 0, head 0, sector 1, 512 bytes: CRC is 0xCA6F.
	id := []byte{0xA1, 0xA1, 0xA1, 0xFE, 0x00, 0x00, 0x01, 0x02}
	if got := CRC16(id); got != 0xCA6F {
		t.Errorf("CRC16(ID) = %#04x, want 0xca6f", got)
	}
}

func TestXOR(t *testing.T) {
	if got := XOR(0x01, 0x02, 0x03, 0x04); got != 0x04 {
		t.Errorf("XOR(1,2,3,4) = %#02x, want 0x04", got)
	}
	if got := XOR(); got != 0 {
		t.Errorf("XOR() = %#02x, want 0", got)
	}
}

func TestAmiga(t *testing.T) {
	if got := Amiga(make([]byte, 512)); got != 0 {
		t.Errorf("Amiga(zeros) = %#08x, want 0", got)
	}
	// 0xFFFFFFFF: odd long 0x7FFFFFFF, even 0xFFFFFFFF, XOR 0x80000000,
	// masked to the data bits gives 0.
	if got := Amiga([]byte{0xFF, 0xFF, 0xFF, 0xFF}); got != 0 {
		t.Errorf("Amiga(ff) = %#08x, want 0", got)
	}
	// 0x00000001: odd 0, even 1.
	if got := Amiga([]byte{0, 0, 0, 1}); got != 1 {
		t.Errorf("Amiga(1) = %#08x, want 1", got)
	}
	// 0x00000002: odd 1, even 2 (masked away).
	if got := Amiga([]byte{0, 0, 0, 2}); got != 1 {
		t.Errorf("Amiga(2) = %#08x, want 1", got)
	}
	// Two equal longs cancel out.
	if got := Amiga([]byte{1, 2, 3, 4, 1, 2, 3, 4}); got != 0 {
		t.Errorf("Amiga(pair) = %#08x, want 0", got)
	}
}

func TestChain(t *testing.T) {
	values := []byte{0x3F, 0x00, 0x15, 0x2A, 0x2A}
	var enc Chain
	stored := make([]byte, 0, len(values)+1)
	for _, v := range values {
		stored = append(stored, enc.Encode(v))
	}
	stored = append(stored, enc.Sum())

	var dec Chain
	for i, s := range stored[:len(values)] {
		if got := dec.Next(s); got != values[i] {
			t.Fatalf("value %v = %#02x, want %#02x", i, got, values[i])
		}
	}
	dec.Next(stored[len(values)])
	if dec.Sum() != 0 {
		t.Fatalf("chain did not end at zero: %#02x", dec.Sum())
	}

	stored[2] ^= 0x04
	var bad Chain
	for _, s := range stored {
		bad.Next(s)
	}
	if bad.Sum() == 0 {
		t.Fatalf("corrupted chain still ends at zero")
	}
}
