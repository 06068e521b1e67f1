// Package common is a subset of the MAVLink common message set. It is the
// dialect the CLI and tests speak.
package common

import (
	"fmt"

	"github.com/danmuck/mavwire/internal/protocol"
)

const (
	HeartbeatID         uint32 = 0
	SysStatusID         uint32 = 1
	AttitudeID          uint32 = 30
	GlobalPositionIntID uint32 = 33
	CommandLongID       uint32 = 76
	CommandAckID        uint32 = 77
)

// entry describes one message. base is the v1 wire size, full includes the
// v2 extensions.
type entry struct {
	name  string
	extra uint8
	base  int
	full  int
	empty func() protocol.Message
	parse func([]byte) (protocol.Message, error)
}

var entries = map[uint32]entry{
	HeartbeatID: {
		name:  "HEARTBEAT",
		extra: 50,
		base:  9,
		full:  9,
		empty: func() protocol.Message { return &Heartbeat{} },
		parse: parseHeartbeat,
	},
	SysStatusID: {
		name:  "SYS_STATUS",
		extra: 124,
		base:  31,
		full:  43,
		empty: func() protocol.Message { return &SysStatus{} },
		parse: parseSysStatus,
	},
	AttitudeID: {
		name:  "ATTITUDE",
		extra: 39,
		base:  28,
		full:  28,
		empty: func() protocol.Message { return &Attitude{} },
		parse: parseAttitude,
	},
	GlobalPositionIntID: {
		name:  "GLOBAL_POSITION_INT",
		extra: 104,
		base:  28,
		full:  28,
		empty: func() protocol.Message { return &GlobalPositionInt{} },
		parse: parseGlobalPositionInt,
	},
	CommandLongID: {
		name:  "COMMAND_LONG",
		extra: 152,
		base:  33,
		full:  33,
		empty: func() protocol.Message { return &CommandLong{Command: MavCmdNavWaypoint} },
		parse: parseCommandLong,
	},
	CommandAckID: {
		name:  "COMMAND_ACK",
		extra: 143,
		base:  3,
		full:  10,
		empty: func() protocol.Message { return &CommandAck{Command: MavCmdNavWaypoint} },
		parse: parseCommandAck,
	},
}

var idsByName = func() map[string]uint32 {
	out := make(map[string]uint32, len(entries))
	for id, e := range entries {
		out[e.name] = id
	}
	return out
}()

// Dialect implements protocol.Dialect for the messages of this package.
type Dialect struct{}

var _ protocol.Dialect = Dialect{}

func (Dialect) ExtraCRC(id uint32) uint8 {
	return entries[id].extra
}

func (Dialect) MessageIDFromName(name string) (uint32, error) {
	id, ok := idsByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", protocol.ErrUnknownMessageName, name)
	}
	return id, nil
}

// DefaultMessageFromID returns a zero message. Enum fields whose zero value
// is undefined get the first defined value.
func (Dialect) DefaultMessageFromID(id uint32) (protocol.Message, error) {
	e, ok := entries[id]
	if !ok {
		return nil, &protocol.UnknownMessageError{ID: id}
	}
	return e.empty(), nil
}

func (Dialect) Parse(v protocol.Version, id uint32, payload []byte) (protocol.Message, error) {
	e, ok := entries[id]
	if !ok {
		return nil, &protocol.UnknownMessageError{ID: id}
	}
	size := e.full
	if v == protocol.V1 {
		size = e.base
	}
	buf := make([]byte, e.full)
	copy(buf[:size], payload)
	return e.parse(buf)
}

// Names lists the message names this dialect knows.
func Names() []string {
	out := make([]string, 0, len(idsByName))
	for name := range idsByName {
		out = append(out, name)
	}
	return out
}
