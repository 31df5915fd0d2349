package obd

// OBD-II service modes.
const (
	CURRENT_DATA         = 0x01
	FREEZE_FRAME_DATA    = 0x02
	STORED_DTCS          = 0x03
	CLEAR_DTCS           = 0x04
	O2_SENSOR_MONITORING = 0x05
	ON_BOARD_MONITORING  = 0x06
	PENDING_DTCS         = 0x07
	CONTROL_OPERATIONS   = 0x08
	VEHICLE_INFORMATION  = 0x09
	PERMANENT_DTCS       = 0x0A
)

// Mode 01 PIDs.
const (
	SUPPORTED_PIDS_01_20 = 0x00
	ENGINE_LOAD          = 0x04
	COOLANT_TEMP         = 0x05
	FUEL_PRESSURE        = 0x0A
	INTAKE_MAP           = 0x0B
	ENGINE_RPM           = 0x0C
	VEHICLE_SPEED        = 0x0D
	TIMING_ADVANCE       = 0x0E
	INTAKE_AIR_TEMP      = 0x0F
	MAF_AIRFLOW          = 0x10
	THROTTLE_POSITION    = 0x11
	RUNTIME_SINCE_START  = 0x1F
	SUPPORTED_PIDS_21_40 = 0x20
	DISTANCE_WITH_MIL    = 0x21
	FUEL_TANK_LEVEL      = 0x2F
	DISTANCE_SINCE_CLEAR = 0x31
	BARO_PRESSURE        = 0x33
	SUPPORTED_PIDS_41_60 = 0x40
	SUPPORTED_PIDS_61_80 = 0x60
	SUPPORTED_PIDS_81_A0 = 0x80
	SUPPORTED_PIDS_A1_C0 = 0xA0
	SUPPORTED_PIDS_C1_E0 = 0xC0
)

// Mode 09 info types.
const (
	INFO_VIN_COUNT       = 0x01
	INFO_VIN             = 0x02
	INFO_CALIBRATION_ID  = 0x04
	INFO_CVN             = 0x06
	INFO_ECU_NAME        = 0x0A
)

func ModeName(mode byte) string {
	switch mode {
	case CURRENT_DATA:
		return "CurrentData"
	case FREEZE_FRAME_DATA:
		return "FreezeFrameData"
	case STORED_DTCS:
		return "StoredDTCs"
	case CLEAR_DTCS:
		return "ClearDTCs"
	case O2_SENSOR_MONITORING:
		return "O2SensorMonitoring"
	case ON_BOARD_MONITORING:
		return "OnBoardMonitoring"
	case PENDING_DTCS:
		return "PendingDTCs"
	case CONTROL_OPERATIONS:
		return "ControlOperations"
	case VEHICLE_INFORMATION:
		return "VehicleInformation"
	case PERMANENT_DTCS:
		return "PermanentDTCs"
	default:
		return "Unknown"
	}
}

func PIDDescription(pid byte) string {
	switch pid {
	case ENGINE_LOAD:
		return "Engine Load"
	case COOLANT_TEMP:
		return "Coolant Temperature"
	case FUEL_PRESSURE:
		return "Fuel Pressure"
	case INTAKE_MAP:
		return "Intake Manifold Pressure"
	case ENGINE_RPM:
		return "Engine RPM"
	case VEHICLE_SPEED:
		return "Vehicle Speed"
	case TIMING_ADVANCE:
		return "Timing Advance"
	case INTAKE_AIR_TEMP:
		return "Intake Air Temperature"
	case MAF_AIRFLOW:
		return "MAF Air Flow Rate"
	case THROTTLE_POSITION:
		return "Throttle Position"
	case RUNTIME_SINCE_START:
		return "Runtime Since Engine Start"
	case DISTANCE_WITH_MIL:
		return "Distance with MIL On"
	case FUEL_TANK_LEVEL:
		return "Fuel Tank Level"
	case DISTANCE_SINCE_CLEAR:
		return "Distance Since Codes Cleared"
	case BARO_PRESSURE:
		return "Barometric Pressure"
	default:
		return "Unknown Parameter"
	}
}
