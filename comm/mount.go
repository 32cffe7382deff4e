package comm

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/snksoft/crc"
	"github.com/tarm/serial"

	"github.com/brandondube/goguide/actuator"
)

// crcTable is the frame checksum used by SerialMount, the same XMODEM
// polynomial the teacher's nkt package uses for its binary telegrams.
var crcTable = crc.NewTable(crc.XMODEM)

// SerialMount drives a pulse-guide mount over a serial or TCP link using
// RemoteDevice, issuing one ASCII command per axis pulse and verifying a
// trailing two-byte CRC on the reply. Concrete vendor protocols vary; this
// framing is the common shape shared by the ST4-style command sets the
// teacher's device wrappers target.
type SerialMount struct {
	RemoteDevice

	guidingEnabled bool
	pierSide       actuator.PierSideReport
	declination    float64
	hasDeclination bool
	rotatorAngle   float64
	hasRotator     bool
}

// NewSerialMount returns a SerialMount ready to Open against addr. serCfg
// is nil for a TCP address.
func NewSerialMount(addr string, isSerial bool, serCfg *serial.Config) *SerialMount {
	rd := NewRemoteDevice(addr, isSerial, nil, serCfg)
	return &SerialMount{RemoteDevice: rd, guidingEnabled: true, pierSide: actuator.PierUnknown}
}

// frame appends a two-byte big-endian XMODEM CRC to payload.
func frame(payload []byte) []byte {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, payload)
	sum := make([]byte, 2)
	binary.BigEndian.PutUint16(sum, crcTable.CRC16(c))
	return append(payload, sum...)
}

// verify strips and checks a frame's trailing CRC, returning the payload.
func verify(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("comm: frame too short to carry a CRC: %d bytes", len(framed))
	}
	payload, sum := framed[:len(framed)-2], framed[len(framed)-2:]
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, payload)
	want := make([]byte, 2)
	binary.BigEndian.PutUint16(want, crcTable.CRC16(c))
	if string(want) != string(sum) {
		return nil, fmt.Errorf("%w: crc mismatch", actuator.ErrTransportFailure)
	}
	return payload, nil
}

// Move issues a timed pulse on one axis. It blocks for the round trip of
// the command/acknowledgement exchange; the actual pulse duration is
// executed by the mount's own firmware, not by sleeping here.
func (m *SerialMount) Move(ctx context.Context, dir actuator.Direction, durationMS int) (actuator.MoveResult, error) {
	if !m.guidingEnabled {
		return actuator.MoveResult{OK: true}, nil
	}
	cmd := frame([]byte(fmt.Sprintf("PULSE %s %d", dir, durationMS)))
	resp, err := m.OpenSendRecvClose(cmd)
	if err != nil {
		return actuator.MoveResult{}, fmt.Errorf("%w: %v", actuator.ErrTransportFailure, err)
	}
	payload, err := verify(resp)
	if err != nil {
		return actuator.MoveResult{}, err
	}
	if strings.TrimSpace(string(payload)) != "OK" {
		return actuator.MoveResult{}, fmt.Errorf("%w: mount replied %q", actuator.ErrTransportFailure, payload)
	}
	return actuator.MoveResult{OK: true}, nil
}

func (m *SerialMount) IsBusy() bool { return false }

func (m *SerialMount) GuidingEnabled() bool     { return m.guidingEnabled }
func (m *SerialMount) SetGuidingEnabled(e bool) { m.guidingEnabled = e }

func (m *SerialMount) HasNonGUIMove() bool   { return true }
func (m *SerialMount) ST4HasGuideOutput() bool { return true }
func (m *SerialMount) CanPulseGuide() bool   { return true }
func (m *SerialMount) CanReportPosition() bool { return false }

// GuidingCeases sends a stop-all-motion command; failures are returned to
// the caller wrapped in actuator.ErrTransportFailure and not retried here.
func (m *SerialMount) GuidingCeases(ctx context.Context) error {
	cmd := frame([]byte("STOP"))
	resp, err := m.OpenSendRecvClose(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", actuator.ErrTransportFailure, err)
	}
	_, err = verify(resp)
	return err
}

func (m *SerialMount) SideOfPier() actuator.PierSideReport { return m.pierSide }

func (m *SerialMount) Declination() (float64, bool) { return m.declination, m.hasDeclination }

func (m *SerialMount) RotatorAngle() (float64, bool) { return m.rotatorAngle, m.hasRotator }

// RefreshTelemetry queries pier side and declination from the mount,
// updating the cached values SideOfPier/Declination report. Rotator angle
// is typically reported by a separate device (the camera rotator, an
// external collaborator per spec.md section 6) and is left to the caller
// to set via SetRotatorAngle.
func (m *SerialMount) RefreshTelemetry(ctx context.Context) error {
	cmd := frame([]byte("TELEM?"))
	resp, err := m.OpenSendRecvClose(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", actuator.ErrTransportFailure, err)
	}
	payload, err := verify(resp)
	if err != nil {
		return err
	}
	fields := strings.Fields(string(payload))
	if len(fields) != 2 {
		return fmt.Errorf("%w: malformed telemetry reply %q", actuator.ErrTransportFailure, payload)
	}
	switch fields[0] {
	case "E":
		m.pierSide = actuator.PierEast
	case "W":
		m.pierSide = actuator.PierWest
	default:
		m.pierSide = actuator.PierUnknown
	}
	dec, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return fmt.Errorf("%w: bad declination field %q", actuator.ErrTransportFailure, fields[1])
	}
	m.declination, m.hasDeclination = dec, true
	return nil
}

// SetRotatorAngle records the current camera rotator angle as reported by
// an external collaborator (spec.md section 6).
func (m *SerialMount) SetRotatorAngle(radians float64) {
	m.rotatorAngle, m.hasRotator = radians, true
}
