package ecu

import (
	"context"
	"fmt"
	"time"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/dtc"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/ebus"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/flasher"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/flashfile"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/obd"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/uds"
)

// Well-known identification DIDs.
const (
	DID_ECU_SERIAL_NUMBER        = 0xF18C
	DID_VIN                      = 0xF190
	DID_HW_NUMBER                = 0xF191
	DID_SUPPLIER_SW_NUMBER       = 0xF194
	DID_SUPPLIER_SW_VERSION      = 0xF195
	DID_SYSTEM_NAME              = 0xF197
	DID_ECU_MANUFACTURING_DATE   = 0xF18B
	DID_APPLICATION_SW_IDENT     = 0xF181
)

// ECU is a high-level handle over one control unit, combining the UDS
// and OBD-II clients. Either client may be nil when the vehicle side
// only speaks one of the protocols.
type ECU struct {
	udsc *uds.Client
	obdc *obd.Client
}

func New(udsClient *uds.Client, obdClient *obd.Client) *ECU {
	return &ECU{udsc: udsClient, obdc: obdClient}
}

func (e *ECU) UDS() *uds.Client { return e.udsc }
func (e *ECU) OBD() *obd.Client { return e.obdc }

// ReadDTCs prefers the richer UDS readout and falls back to OBD mode 03
// when the ECU does not speak service 0x19.
func (e *ECU) ReadDTCs(ctx context.Context) ([]dtc.DTC, error) {
	if e.udsc != nil {
		codes, err := e.udsc.ReadDTCInformation(ctx, uds.REPORT_DTC_BY_STATUS_MASK, 0xFF)
		if err == nil {
			return codes, nil
		}
		if !uds.IsServiceNotSupported(err) || e.obdc == nil {
			return nil, err
		}
	}
	if e.obdc == nil {
		return nil, fmt.Errorf("no diagnostic client configured")
	}
	return e.obdc.ReadStoredDTCs(ctx)
}

// ClearDTCs clears everything, over UDS when available.
func (e *ECU) ClearDTCs(ctx context.Context) error {
	if e.udsc != nil {
		err := e.udsc.ClearDiagnosticInformation(ctx, 0xFFFFFF)
		if err == nil || !uds.IsServiceNotSupported(err) || e.obdc == nil {
			return err
		}
	}
	if e.obdc == nil {
		return fmt.Errorf("no diagnostic client configured")
	}
	return e.obdc.ClearDTCs(ctx)
}

// VIN reads the vehicle identification number from DID 0xF190, falling
// back to OBD mode 09.
func (e *ECU) VIN(ctx context.Context) (string, error) {
	if e.udsc != nil {
		data, err := e.udsc.ReadDataByIdentifier(ctx, DID_VIN)
		if err == nil && len(data) > 0 {
			return string(data), nil
		}
		if e.obdc == nil {
			return "", err
		}
	}
	if e.obdc == nil {
		return "", fmt.Errorf("no diagnostic client configured")
	}
	return e.obdc.VIN(ctx)
}

// Info collects the well-known identification DIDs that the ECU
// answers.
func (e *ECU) Info(ctx context.Context) (map[string]string, error) {
	if e.udsc == nil {
		return nil, fmt.Errorf("UDS client required for identification reads")
	}
	dids := map[uint16]string{
		DID_ECU_SERIAL_NUMBER:      "serial_number",
		DID_VIN:                    "vin",
		DID_HW_NUMBER:              "hardware_number",
		DID_SUPPLIER_SW_NUMBER:     "software_number",
		DID_SUPPLIER_SW_VERSION:    "software_version",
		DID_SYSTEM_NAME:            "system_name",
		DID_ECU_MANUFACTURING_DATE: "manufacturing_date",
		DID_APPLICATION_SW_IDENT:   "application_software",
	}
	keys := make([]uint16, 0, len(dids))
	for did := range dids {
		keys = append(keys, did)
	}
	values, err := e.udsc.ReadMultipleDataByIdentifier(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for did, data := range values {
		out[dids[did]] = string(data)
	}
	return out, nil
}

// Authenticate unlocks a security level with the supplied key
// derivation.
func (e *ECU) Authenticate(ctx context.Context, level byte, seedToKey uds.SeedToKeyFunc) error {
	if e.udsc == nil {
		return fmt.Errorf("UDS client required for security access")
	}
	return e.udsc.SecurityAccess(ctx, level, seedToKey)
}

// IsSecurityAccessActive reports the cached unlock state for a level.
func (e *ECU) IsSecurityAccessActive(level byte) bool {
	return e.udsc != nil && e.udsc.Unlocked(level)
}

// ReadMemory reads raw ECU memory over service 0x23.
func (e *ECU) ReadMemory(ctx context.Context, address, size uint32) ([]byte, error) {
	if e.udsc == nil {
		return nil, fmt.Errorf("UDS client required for memory reads")
	}
	return e.udsc.ReadMemoryByAddress(ctx, address, size)
}

// WriteMemory writes raw ECU memory over service 0x3D.
func (e *ECU) WriteMemory(ctx context.Context, address uint32, data []byte) error {
	if e.udsc == nil {
		return fmt.Errorf("UDS client required for memory writes")
	}
	return e.udsc.WriteMemoryByAddress(ctx, address, data)
}

// PerformActuatorTest triggers an IO control for an actuator.
func (e *ECU) PerformActuatorTest(ctx context.Context, actuator uint16, params []byte) error {
	if e.udsc == nil {
		return fmt.Errorf("UDS client required for actuator tests")
	}
	// shortTermAdjustment per ISO 14229.
	return e.udsc.InputOutputControl(ctx, actuator, 0x03, params)
}

// StartMonitoring polls live parameters over OBD and feeds the bus.
func (e *ECU) StartMonitoring(pids []byte, interval time.Duration, sink obd.MonitorSink, bus *ebus.Bus) error {
	if e.obdc == nil {
		return fmt.Errorf("OBD client required for monitoring")
	}
	return e.obdc.StartMonitoring(pids, interval, sink, bus)
}

func (e *ECU) StopMonitoring() {
	if e.obdc != nil {
		e.obdc.StopMonitoring()
	}
}

// FlashFirmware loads the image at path and programs it through a flash
// manager built on this ECU's UDS client.
func (e *ECU) FlashFirmware(ctx context.Context, path string, cfg flasher.Config, progress flasher.ProgressFunc) (flasher.Statistics, error) {
	if e.udsc == nil {
		return flasher.Statistics{}, fmt.Errorf("UDS client required for flashing")
	}
	file, err := flashfile.Load(path)
	if err != nil {
		return flasher.Statistics{}, err
	}
	m := flasher.New(e.udsc, cfg)
	if progress != nil {
		m.OnProgress(progress)
	}
	err = m.Program(ctx, file)
	return m.Statistics(), err
}

// Shutdown stops background workers on both clients.
func (e *ECU) Shutdown() {
	if e.obdc != nil {
		e.obdc.Shutdown()
	}
	if e.udsc != nil {
		e.udsc.Close()
	}
}
