// Package crc implements MSB-first CRC-8 used by sensor bus frames.
package crc

// Sensirion SHT3x/SHT4x: x^8+x^5+x^4+1, init 0xff
const (
	PolySensirion byte = 0x31
	InitSensirion byte = 0xff
)

type Table8 [256]byte

func MakeTable8(poly byte) *Table8 {
	t := new(Table8)
	for i := 0; i < 256; i++ {
		t[i] = update8bit(byte(i), poly)
	}
	return t
}

func update8bit(crc, poly byte) byte {
	for i := 0; i < 8; i++ {
		if crc&0x80 != 0 {
			crc = crc<<1 ^ poly
		} else {
			crc <<= 1
		}
	}
	return crc
}

// Reference is bit by bit implementation, used to verify table.
func Reference(crc, poly byte, data []byte) byte {
	for _, b := range data {
		crc = update8bit(crc^b, poly)
	}
	return crc
}

func Checksum8(crc byte, t *Table8, data []byte) byte {
	for _, b := range data {
		crc = t[crc^b]
	}
	return crc
}

var sensirionTable = MakeTable8(PolySensirion)

func Sensirion(data []byte) byte { return Checksum8(InitSensirion, sensirionTable, data) }
