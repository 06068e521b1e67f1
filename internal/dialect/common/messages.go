package common

import (
	"encoding/binary"
	"math"

	"github.com/danmuck/mavwire/internal/protocol"
)

var le = binary.LittleEndian

func putFloat(b []byte, v float32) { le.PutUint32(b, math.Float32bits(v)) }
func getFloat(b []byte) float32    { return math.Float32frombits(le.Uint32(b)) }

// Heartbeat announces a system and its state.
type Heartbeat struct {
	CustomMode     uint32
	Type           MavType
	Autopilot      MavAutopilot
	BaseMode       MavModeFlag
	SystemStatus   MavState
	MavlinkVersion uint8
}

func (*Heartbeat) MessageID() uint32   { return HeartbeatID }
func (*Heartbeat) MessageName() string { return "HEARTBEAT" }

func (m *Heartbeat) Serialize(_ protocol.Version, b []byte) int {
	le.PutUint32(b[0:], m.CustomMode)
	b[4] = uint8(m.Type)
	b[5] = uint8(m.Autopilot)
	b[6] = uint8(m.BaseMode)
	b[7] = uint8(m.SystemStatus)
	b[8] = m.MavlinkVersion
	return 9
}

func parseHeartbeat(b []byte) (protocol.Message, error) {
	m := &Heartbeat{
		CustomMode:     le.Uint32(b[0:]),
		Type:           MavType(b[4]),
		Autopilot:      MavAutopilot(b[5]),
		BaseMode:       MavModeFlag(b[6]),
		SystemStatus:   MavState(b[7]),
		MavlinkVersion: b[8],
	}
	if err := m.Type.validate(); err != nil {
		return nil, err
	}
	if err := m.Autopilot.validate(); err != nil {
		return nil, err
	}
	if err := m.SystemStatus.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// SysStatus reports onboard sensor health and battery state. The Extended
// fields are v2 extensions.
type SysStatus struct {
	SensorsPresent   MavSysStatusSensor
	SensorsEnabled   MavSysStatusSensor
	SensorsHealth    MavSysStatusSensor
	Load             uint16
	VoltageBattery   uint16
	CurrentBattery   int16
	DropRateComm     uint16
	ErrorsComm       uint16
	ErrorsCount      [4]uint16
	BatteryRemaining int8

	SensorsPresentExtended MavSysStatusSensorExtended
	SensorsEnabledExtended MavSysStatusSensorExtended
	SensorsHealthExtended  MavSysStatusSensorExtended
}

func (*SysStatus) MessageID() uint32   { return SysStatusID }
func (*SysStatus) MessageName() string { return "SYS_STATUS" }

func (m *SysStatus) Serialize(v protocol.Version, b []byte) int {
	le.PutUint32(b[0:], uint32(m.SensorsPresent))
	le.PutUint32(b[4:], uint32(m.SensorsEnabled))
	le.PutUint32(b[8:], uint32(m.SensorsHealth))
	le.PutUint16(b[12:], m.Load)
	le.PutUint16(b[14:], m.VoltageBattery)
	le.PutUint16(b[16:], uint16(m.CurrentBattery))
	le.PutUint16(b[18:], m.DropRateComm)
	le.PutUint16(b[20:], m.ErrorsComm)
	for i, c := range m.ErrorsCount {
		le.PutUint16(b[22+2*i:], c)
	}
	b[30] = uint8(m.BatteryRemaining)
	if v == protocol.V1 {
		return 31
	}
	le.PutUint32(b[31:], uint32(m.SensorsPresentExtended))
	le.PutUint32(b[35:], uint32(m.SensorsEnabledExtended))
	le.PutUint32(b[39:], uint32(m.SensorsHealthExtended))
	return 43
}

func parseSysStatus(b []byte) (protocol.Message, error) {
	m := &SysStatus{
		SensorsPresent:   MavSysStatusSensor(le.Uint32(b[0:])),
		SensorsEnabled:   MavSysStatusSensor(le.Uint32(b[4:])),
		SensorsHealth:    MavSysStatusSensor(le.Uint32(b[8:])),
		Load:             le.Uint16(b[12:]),
		VoltageBattery:   le.Uint16(b[14:]),
		CurrentBattery:   int16(le.Uint16(b[16:])),
		DropRateComm:     le.Uint16(b[18:]),
		ErrorsComm:       le.Uint16(b[20:]),
		BatteryRemaining: int8(b[30]),

		SensorsPresentExtended: MavSysStatusSensorExtended(le.Uint32(b[31:])),
		SensorsEnabledExtended: MavSysStatusSensorExtended(le.Uint32(b[35:])),
		SensorsHealthExtended:  MavSysStatusSensorExtended(le.Uint32(b[39:])),
	}
	for i := range m.ErrorsCount {
		m.ErrorsCount[i] = le.Uint16(b[22+2*i:])
	}
	for _, f := range []MavSysStatusSensor{m.SensorsPresent, m.SensorsEnabled, m.SensorsHealth} {
		if err := f.validate(); err != nil {
			return nil, err
		}
	}
	for _, f := range []MavSysStatusSensorExtended{m.SensorsPresentExtended, m.SensorsEnabledExtended, m.SensorsHealthExtended} {
		if err := f.validate(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Attitude is in radians and radians per second.
type Attitude struct {
	TimeBootMs uint32
	Roll       float32
	Pitch      float32
	Yaw        float32
	RollSpeed  float32
	PitchSpeed float32
	YawSpeed   float32
}

func (*Attitude) MessageID() uint32   { return AttitudeID }
func (*Attitude) MessageName() string { return "ATTITUDE" }

func (m *Attitude) Serialize(_ protocol.Version, b []byte) int {
	le.PutUint32(b[0:], m.TimeBootMs)
	putFloat(b[4:], m.Roll)
	putFloat(b[8:], m.Pitch)
	putFloat(b[12:], m.Yaw)
	putFloat(b[16:], m.RollSpeed)
	putFloat(b[20:], m.PitchSpeed)
	putFloat(b[24:], m.YawSpeed)
	return 28
}

func parseAttitude(b []byte) (protocol.Message, error) {
	return &Attitude{
		TimeBootMs: le.Uint32(b[0:]),
		Roll:       getFloat(b[4:]),
		Pitch:      getFloat(b[8:]),
		Yaw:        getFloat(b[12:]),
		RollSpeed:  getFloat(b[16:]),
		PitchSpeed: getFloat(b[20:]),
		YawSpeed:   getFloat(b[24:]),
	}, nil
}

// GlobalPositionInt carries degE7 coordinates, millimetres and cm/s.
type GlobalPositionInt struct {
	TimeBootMs  uint32
	Lat         int32
	Lon         int32
	Alt         int32
	RelativeAlt int32
	Vx          int16
	Vy          int16
	Vz          int16
	Hdg         uint16
}

func (*GlobalPositionInt) MessageID() uint32   { return GlobalPositionIntID }
func (*GlobalPositionInt) MessageName() string { return "GLOBAL_POSITION_INT" }

func (m *GlobalPositionInt) Serialize(_ protocol.Version, b []byte) int {
	le.PutUint32(b[0:], m.TimeBootMs)
	le.PutUint32(b[4:], uint32(m.Lat))
	le.PutUint32(b[8:], uint32(m.Lon))
	le.PutUint32(b[12:], uint32(m.Alt))
	le.PutUint32(b[16:], uint32(m.RelativeAlt))
	le.PutUint16(b[20:], uint16(m.Vx))
	le.PutUint16(b[22:], uint16(m.Vy))
	le.PutUint16(b[24:], uint16(m.Vz))
	le.PutUint16(b[26:], m.Hdg)
	return 28
}

func parseGlobalPositionInt(b []byte) (protocol.Message, error) {
	return &GlobalPositionInt{
		TimeBootMs:  le.Uint32(b[0:]),
		Lat:         int32(le.Uint32(b[4:])),
		Lon:         int32(le.Uint32(b[8:])),
		Alt:         int32(le.Uint32(b[12:])),
		RelativeAlt: int32(le.Uint32(b[16:])),
		Vx:          int16(le.Uint16(b[20:])),
		Vy:          int16(le.Uint16(b[22:])),
		Vz:          int16(le.Uint16(b[24:])),
		Hdg:         le.Uint16(b[26:]),
	}, nil
}

type CommandLong struct {
	Params          [7]float32
	Command         MavCmd
	TargetSystem    uint8
	TargetComponent uint8
	Confirmation    uint8
}

func (*CommandLong) MessageID() uint32   { return CommandLongID }
func (*CommandLong) MessageName() string { return "COMMAND_LONG" }

func (m *CommandLong) Serialize(_ protocol.Version, b []byte) int {
	for i, p := range m.Params {
		putFloat(b[4*i:], p)
	}
	le.PutUint16(b[28:], uint16(m.Command))
	b[30] = m.TargetSystem
	b[31] = m.TargetComponent
	b[32] = m.Confirmation
	return 33
}

func parseCommandLong(b []byte) (protocol.Message, error) {
	m := &CommandLong{
		Command:         MavCmd(le.Uint16(b[28:])),
		TargetSystem:    b[30],
		TargetComponent: b[31],
		Confirmation:    b[32],
	}
	for i := range m.Params {
		m.Params[i] = getFloat(b[4*i:])
	}
	if err := m.Command.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// CommandAck answers a COMMAND_LONG. Fields after Result are v2 extensions.
type CommandAck struct {
	Command MavCmd
	Result  MavResult

	Progress        uint8
	ResultParam2    int32
	TargetSystem    uint8
	TargetComponent uint8
}

func (*CommandAck) MessageID() uint32   { return CommandAckID }
func (*CommandAck) MessageName() string { return "COMMAND_ACK" }

func (m *CommandAck) Serialize(v protocol.Version, b []byte) int {
	le.PutUint16(b[0:], uint16(m.Command))
	b[2] = uint8(m.Result)
	if v == protocol.V1 {
		return 3
	}
	b[3] = m.Progress
	le.PutUint32(b[4:], uint32(m.ResultParam2))
	b[8] = m.TargetSystem
	b[9] = m.TargetComponent
	return 10
}

func parseCommandAck(b []byte) (protocol.Message, error) {
	m := &CommandAck{
		Command:         MavCmd(le.Uint16(b[0:])),
		Result:          MavResult(b[2]),
		Progress:        b[3],
		ResultParam2:    int32(le.Uint32(b[4:])),
		TargetSystem:    b[8],
		TargetComponent: b[9],
	}
	if err := m.Command.validate(); err != nil {
		return nil, err
	}
	if err := m.Result.validate(); err != nil {
		return nil, err
	}
	return m, nil
}
