package obd

import "fmt"

// Parameter is one decoded OBD-II data point.
type Parameter struct {
	PID   byte
	Name  string
	Raw   []byte
	Value float64
	Unit  string
}

func (p Parameter) String() string {
	return fmt.Sprintf("OBD[%s: %.2f %s]", p.Name, p.Value, p.Unit)
}

// NewParameter decodes the raw response bytes for a PID with its fixed
// formula. Unknown PIDs decode to the first byte with unit "raw".
func NewParameter(pid byte, raw []byte) Parameter {
	p := Parameter{PID: pid, Name: PIDDescription(pid), Raw: raw}
	p.decode()
	return p
}

func (p *Parameter) decode() {
	if len(p.Raw) == 0 {
		return
	}
	a := float64(p.Raw[0])
	var b float64
	if len(p.Raw) > 1 {
		b = float64(p.Raw[1])
	}
	twoByte := len(p.Raw) >= 2

	switch p.PID {
	case ENGINE_LOAD, THROTTLE_POSITION, FUEL_TANK_LEVEL:
		p.Value, p.Unit = a*100.0/255.0, "%"
	case COOLANT_TEMP, INTAKE_AIR_TEMP:
		p.Value, p.Unit = a-40, "°C"
	case FUEL_PRESSURE:
		p.Value, p.Unit = a*3, "kPa"
	case INTAKE_MAP, BARO_PRESSURE:
		p.Value, p.Unit = a, "kPa"
	case ENGINE_RPM:
		if twoByte {
			p.Value, p.Unit = (a*256+b)/4.0, "RPM"
		}
	case VEHICLE_SPEED:
		p.Value, p.Unit = a, "km/h"
	case TIMING_ADVANCE:
		p.Value, p.Unit = a/2.0-64.0, "°"
	case MAF_AIRFLOW:
		if twoByte {
			p.Value, p.Unit = (a*256+b)/100.0, "g/s"
		}
	case RUNTIME_SINCE_START:
		if twoByte {
			p.Value, p.Unit = a*256+b, "s"
		}
	case DISTANCE_WITH_MIL, DISTANCE_SINCE_CLEAR:
		if twoByte {
			p.Value, p.Unit = a*256+b, "km"
		}
	default:
		p.Value, p.Unit = a, "raw"
	}
}

// parseSupportedPIDs expands a four byte support bit-map. Bit i
// (MSB-first) set means PID base+i+1 is supported.
func parseSupportedPIDs(data []byte, base byte) []byte {
	if len(data) < 4 {
		return nil
	}
	var pids []byte
	for i := 0; i < 4; i++ {
		for bit := 0; bit < 8; bit++ {
			if data[i]&(1<<(7-bit)) != 0 {
				pids = append(pids, base+byte(i*8+bit)+1)
			}
		}
	}
	return pids
}
