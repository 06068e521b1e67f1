// Package mavtest holds wire fixtures shared by tests.
package mavtest

// CommandLongTruncated is a v2 COMMAND_LONG (id 76) frame whose payload was
// truncated to 30 bytes: sequence 0, system 0, component 50.
var CommandLongTruncated = []byte{
	0xFD,     // magic
	30,       // payload length
	0, 0,     // incompat, compat
	0, 0, 50, // sequence, system, component
	76, 0, 0, // message id
	0, 0, 230, 66, 0, 64, 156, 69,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	255, 1,
	188, 195, // checksum 0xC3BC
}

// CommandLongExtraCRC is the seed of COMMAND_LONG.
const CommandLongExtraCRC uint8 = 152

// ConstantExtraCRC reports the COMMAND_LONG seed for every id, like a
// catalogue that knows a single message.
func ConstantExtraCRC(uint32) uint8 { return CommandLongExtraCRC }

// Clone returns a copy of b that tests may mutate.
func Clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Repeat concatenates n copies of b.
func Repeat(b []byte, n int) []byte {
	out := make([]byte, 0, len(b)*n)
	for i := 0; i < n; i++ {
		out = append(out, b...)
	}
	return out
}
