// Package crc implements the frame checksum (CRC-16/MCRF4XX, "X.25").
package crc

import "github.com/sigurn/crc16"

// Init is the accumulator value before any byte is folded in.
const Init uint16 = 0xFFFF

var table = crc16.MakeTable(crc16.CRC16_MCRF4XX)

// Calculate folds data and then the seed byte into a fresh accumulator.
func Calculate(data []byte, seed byte) uint16 {
	return Frame(data, nil, seed)
}

// Frame computes the checksum in wire order: header bytes after the magic,
// then payload, then the per-message seed.
func Frame(header, payload []byte, seed byte) uint16 {
	c := crc16.Init(table)
	c = crc16.Update(c, header, table)
	c = crc16.Update(c, payload, table)
	c = crc16.Update(c, []byte{seed}, table)
	return crc16.Complete(c, table)
}

// Accumulate folds a single byte into acc using the bitwise update. It is
// the reference form of the table-driven path above.
func Accumulate(acc uint16, b byte) uint16 {
	tmp := b ^ byte(acc)
	tmp ^= tmp << 4
	return (acc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}
