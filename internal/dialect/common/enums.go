package common

import (
	"strconv"
	"strings"

	"github.com/danmuck/mavwire/internal/protocol"
)

type MavType uint8

const (
	MavTypeGeneric           MavType = 0
	MavTypeFixedWing         MavType = 1
	MavTypeQuadrotor         MavType = 2
	MavTypeCoaxial           MavType = 3
	MavTypeHelicopter        MavType = 4
	MavTypeAntennaTracker    MavType = 5
	MavTypeGCS               MavType = 6
	MavTypeAirship           MavType = 7
	MavTypeFreeBalloon       MavType = 8
	MavTypeRocket            MavType = 9
	MavTypeGroundRover       MavType = 10
	MavTypeSurfaceBoat       MavType = 11
	MavTypeSubmarine         MavType = 12
	MavTypeHexarotor         MavType = 13
	MavTypeOctorotor         MavType = 14
	MavTypeTricopter         MavType = 15
	MavTypeFlappingWing      MavType = 16
	MavTypeKite              MavType = 17
	MavTypeOnboardController MavType = 18
	MavTypeLast              MavType = 43
)

// validate accepts every value up to MavTypeLast; the constants above name
// the common ones.
func (t MavType) validate() error {
	if t > MavTypeLast {
		return &protocol.InvalidEnumError{EnumType: "MAV_TYPE", Value: uint64(t)}
	}
	return nil
}

type MavAutopilot uint8

const (
	MavAutopilotGeneric   MavAutopilot = 0
	MavAutopilotSlugs     MavAutopilot = 2
	MavAutopilotArdupilot MavAutopilot = 3
	MavAutopilotOpenPilot MavAutopilot = 4
	MavAutopilotInvalid   MavAutopilot = 8
	MavAutopilotPX4       MavAutopilot = 12
	MavAutopilotReflex    MavAutopilot = 20
)

func (a MavAutopilot) validate() error {
	if a > MavAutopilotReflex {
		return &protocol.InvalidEnumError{EnumType: "MAV_AUTOPILOT", Value: uint64(a)}
	}
	return nil
}

// MavModeFlag is a bitmask; every bit is defined.
type MavModeFlag uint8

const (
	MavModeFlagCustomModeEnabled  MavModeFlag = 1 << 0
	MavModeFlagTestEnabled        MavModeFlag = 1 << 1
	MavModeFlagAutoEnabled        MavModeFlag = 1 << 2
	MavModeFlagGuidedEnabled      MavModeFlag = 1 << 3
	MavModeFlagStabilizeEnabled   MavModeFlag = 1 << 4
	MavModeFlagHILEnabled         MavModeFlag = 1 << 5
	MavModeFlagManualInputEnabled MavModeFlag = 1 << 6
	MavModeFlagSafetyArmed        MavModeFlag = 1 << 7
)

type MavState uint8

const (
	MavStateUninit MavState = iota
	MavStateBoot
	MavStateCalibrating
	MavStateStandby
	MavStateActive
	MavStateCritical
	MavStateEmergency
	MavStatePoweroff
	MavStateFlightTermination
)

func (s MavState) validate() error {
	if s > MavStateFlightTermination {
		return &protocol.InvalidEnumError{EnumType: "MAV_STATE", Value: uint64(s)}
	}
	return nil
}

// MavSysStatusSensor is the SYS_STATUS onboard sensor bitmask. Every bit is
// assigned; EXTENSION_USED marks the Extended fields as meaningful.
type MavSysStatusSensor uint32

const (
	MavSysStatusSensorGyro3D MavSysStatusSensor = 1 << iota
	MavSysStatusSensorAccel3D
	MavSysStatusSensorMag3D
	MavSysStatusSensorAbsolutePressure
	MavSysStatusSensorDifferentialPressure
	MavSysStatusSensorGPS
	MavSysStatusSensorOpticalFlow
	MavSysStatusSensorVisionPosition
	MavSysStatusSensorLaserPosition
	MavSysStatusSensorExternalGroundTruth
	MavSysStatusSensorAngularRateControl
	MavSysStatusSensorAttitudeStabilization
	MavSysStatusSensorYawPosition
	MavSysStatusSensorZAltitudeControl
	MavSysStatusSensorXYPositionControl
	MavSysStatusSensorMotorOutputs
	MavSysStatusSensorRCReceiver
	MavSysStatusSensorGyro3D2
	MavSysStatusSensorAccel3D2
	MavSysStatusSensorMag3D2
	MavSysStatusSensorGeofence
	MavSysStatusSensorAHRS
	MavSysStatusSensorTerrain
	MavSysStatusSensorReverseMotor
	MavSysStatusSensorLogging
	MavSysStatusSensorBattery
	MavSysStatusSensorProximity
	MavSysStatusSensorSatcom
	MavSysStatusSensorPrearmCheck
	MavSysStatusSensorObstacleAvoidance
	MavSysStatusSensorPropulsion
	MavSysStatusSensorExtensionUsed
)

const mavSysStatusSensorDefined MavSysStatusSensor = 1<<32 - 1

var mavSysStatusSensorNames = [...]string{
	"3D_GYRO",
	"3D_ACCEL",
	"3D_MAG",
	"ABSOLUTE_PRESSURE",
	"DIFFERENTIAL_PRESSURE",
	"GPS",
	"OPTICAL_FLOW",
	"VISION_POSITION",
	"LASER_POSITION",
	"EXTERNAL_GROUND_TRUTH",
	"ANGULAR_RATE_CONTROL",
	"ATTITUDE_STABILIZATION",
	"YAW_POSITION",
	"Z_ALTITUDE_CONTROL",
	"XY_POSITION_CONTROL",
	"MOTOR_OUTPUTS",
	"RC_RECEIVER",
	"3D_GYRO2",
	"3D_ACCEL2",
	"3D_MAG2",
	"GEOFENCE",
	"AHRS",
	"TERRAIN",
	"REVERSE_MOTOR",
	"LOGGING",
	"BATTERY",
	"PROXIMITY",
	"SATCOM",
	"PREARM_CHECK",
	"OBSTACLE_AVOIDANCE",
	"PROPULSION",
	"EXTENSION_USED",
}

// String lists the set bits, lowest first, joined by "|".
func (f MavSysStatusSensor) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	for i, name := range mavSysStatusSensorNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

func (f MavSysStatusSensor) validate() error {
	if f&^mavSysStatusSensorDefined != 0 {
		return &protocol.InvalidFlagError{FlagType: "MAV_SYS_STATUS_SENSOR", Value: uint64(f)}
	}
	return nil
}

// MavSysStatusSensorExtended only defines the recovery system bit.
type MavSysStatusSensorExtended uint32

const MavSysStatusRecoverySystem MavSysStatusSensorExtended = 1

func (f MavSysStatusSensorExtended) validate() error {
	if f&^MavSysStatusRecoverySystem != 0 {
		return &protocol.InvalidFlagError{FlagType: "MAV_SYS_STATUS_SENSOR_EXTENDED", Value: uint64(f)}
	}
	return nil
}

type MavCmd uint16

const (
	MavCmdNavWaypoint                  MavCmd = 16
	MavCmdNavReturnToLaunch            MavCmd = 20
	MavCmdNavLand                      MavCmd = 21
	MavCmdNavTakeoff                   MavCmd = 22
	MavCmdDoSetMode                    MavCmd = 176
	MavCmdDoChangeSpeed                MavCmd = 178
	MavCmdDoSetServo                   MavCmd = 183
	MavCmdPreflightRebootShutdown      MavCmd = 246
	MavCmdComponentArmDisarm           MavCmd = 400
	MavCmdSetMessageInterval           MavCmd = 511
	MavCmdRequestMessage               MavCmd = 512
	MavCmdRequestAutopilotCapabilities MavCmd = 520
)

var mavCmdNames = map[MavCmd]string{
	MavCmdNavWaypoint:                  "MAV_CMD_NAV_WAYPOINT",
	MavCmdNavReturnToLaunch:            "MAV_CMD_NAV_RETURN_TO_LAUNCH",
	MavCmdNavLand:                      "MAV_CMD_NAV_LAND",
	MavCmdNavTakeoff:                   "MAV_CMD_NAV_TAKEOFF",
	MavCmdDoSetMode:                    "MAV_CMD_DO_SET_MODE",
	MavCmdDoChangeSpeed:                "MAV_CMD_DO_CHANGE_SPEED",
	MavCmdDoSetServo:                   "MAV_CMD_DO_SET_SERVO",
	MavCmdPreflightRebootShutdown:      "MAV_CMD_PREFLIGHT_REBOOT_SHUTDOWN",
	MavCmdComponentArmDisarm:           "MAV_CMD_COMPONENT_ARM_DISARM",
	MavCmdSetMessageInterval:           "MAV_CMD_SET_MESSAGE_INTERVAL",
	MavCmdRequestMessage:               "MAV_CMD_REQUEST_MESSAGE",
	MavCmdRequestAutopilotCapabilities: "MAV_CMD_REQUEST_AUTOPILOT_CAPABILITIES",
}

func (c MavCmd) String() string {
	if name, ok := mavCmdNames[c]; ok {
		return name
	}
	return "MAV_CMD(" + strconv.FormatUint(uint64(c), 10) + ")"
}

func (c MavCmd) validate() error {
	if _, ok := mavCmdNames[c]; !ok {
		return &protocol.InvalidEnumError{EnumType: "MAV_CMD", Value: uint64(c)}
	}
	return nil
}

type MavResult uint8

const (
	MavResultAccepted MavResult = iota
	MavResultTemporarilyRejected
	MavResultDenied
	MavResultUnsupported
	MavResultFailed
	MavResultInProgress
	MavResultCancelled
	MavResultCommandLongOnly
	MavResultCommandIntOnly
	MavResultCommandUnsupportedMavFrame
)

var mavResultNames = [...]string{
	"ACCEPTED",
	"TEMPORARILY_REJECTED",
	"DENIED",
	"UNSUPPORTED",
	"FAILED",
	"IN_PROGRESS",
	"CANCELLED",
	"COMMAND_LONG_ONLY",
	"COMMAND_INT_ONLY",
	"COMMAND_UNSUPPORTED_MAV_FRAME",
}

func (r MavResult) String() string {
	if int(r) < len(mavResultNames) {
		return "MAV_RESULT_" + mavResultNames[r]
	}
	return "MAV_RESULT(" + strconv.FormatUint(uint64(r), 10) + ")"
}

func (r MavResult) validate() error {
	if r > MavResultCommandUnsupportedMavFrame {
		return &protocol.InvalidEnumError{EnumType: "MAV_RESULT", Value: uint64(r)}
	}
	return nil
}
