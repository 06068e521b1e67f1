// Package protocol is the contract between frames and typed messages.
//
// It owns:
// - the Message and Dialect interfaces a message catalogue implements
// - parser errors shared by every dialect
// - blocking frame reads over a bufio.Reader and frame assembly for writes
//
// Byte-level framing lives in protocol/frame, the non-blocking stream
// decoder in protocol/decoder.
package protocol
