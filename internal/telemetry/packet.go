package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	TimeLayout         = "02/01/2006 15:04:05"
	DefaultCommandEcho = "0000"
	EmergencyEcho      = "EMRG"
	DefaultTeamID      = "286570"
)

var ErrMalformedFrame = errors.New("malformed telemetry frame")

// Header names the record fields in wire order.
var Header = []string{
	"packet_number",
	"phase",
	"fault_code",
	"timestamp",
	"pressure1_pa",
	"pressure2_pa",
	"altitude1_m",
	"altitude2_m",
	"altitude_delta_m",
	"descent_rate_mps",
	"temperature_c",
	"battery_v",
	"gps_latitude",
	"gps_longitude",
	"gps_altitude_m",
	"pitch",
	"roll",
	"yaw",
	"accel_x",
	"accel_y",
	"accel_z",
	"gyro_x",
	"gyro_y",
	"gyro_z",
	"mag_x",
	"mag_y",
	"mag_z",
	"command_echo",
	"station1_temp_c",
	"station2_temp_c",
	"team_id",
}

// Packet is one telemetry record. It is built once per cycle and passed by
// value afterwards.
type Packet struct {
	Sequence int
	Phase    Phase
	Fault    FaultCode
	Time     time.Time

	Pressure1     float64 // Pa, payload
	Pressure2     float64 // Pa, carrier
	Altitude1     float64
	Altitude2     float64
	AltitudeDelta float64
	DescentRate   float64
	Temperature   float64
	Battery       float64

	GPSLatitude  float64
	GPSLongitude float64
	GPSAltitude  float64

	Pitch float64
	Roll  float64
	Yaw   float64

	Accel [3]float64
	Gyro  [3]float64
	Mag   [3]float64

	CommandEcho  string
	Station1Temp float64
	Station2Temp float64
	TeamID       string

	Emergency bool
}

// Fields renders the packet in wire order.
func (p Packet) Fields() []string {
	f := func(format string, v float64) string { return fmt.Sprintf(format, v) }
	echo := p.CommandEcho
	if echo == "" {
		echo = DefaultCommandEcho
	}
	team := p.TeamID
	if team == "" {
		team = DefaultTeamID
	}

	return []string{
		strconv.Itoa(p.Sequence),
		strconv.Itoa(int(p.Phase)),
		p.Fault.String(),
		p.Time.Format(TimeLayout),
		f("%.0f", p.Pressure1),
		f("%.0f", p.Pressure2),
		f("%.3f", p.Altitude1),
		f("%.3f", p.Altitude2),
		f("%.3f", p.AltitudeDelta),
		f("%.2f", p.DescentRate),
		f("%.1f", p.Temperature),
		f("%.2f", p.Battery),
		f("%.6f", p.GPSLatitude),
		f("%.6f", p.GPSLongitude),
		f("%.2f", p.GPSAltitude),
		f("%.1f", p.Pitch),
		f("%.1f", p.Roll),
		f("%.1f", p.Yaw),
		f("%.2f", p.Accel[0]),
		f("%.2f", p.Accel[1]),
		f("%.2f", p.Accel[2]),
		f("%.2f", p.Gyro[0]),
		f("%.2f", p.Gyro[1]),
		f("%.2f", p.Gyro[2]),
		f("%.0f", p.Mag[0]),
		f("%.0f", p.Mag[1]),
		f("%.0f", p.Mag[2]),
		echo,
		f("%.1f", p.Station1Temp),
		f("%.1f", p.Station2Temp),
		team,
	}
}

// Record is the comma-separated wire record.
func (p Packet) Record() string {
	return strings.Join(p.Fields(), ",")
}

// Frame is the radio variant: $record*HH.
func (p Packet) Frame() string {
	return FrameRecord(p.Record())
}

// FrameRecord wraps a record with its XOR checksum.
func FrameRecord(record string) string {
	return fmt.Sprintf("$%s*%02X", record, Checksum(record))
}

// Checksum is the XOR of every byte of record.
func Checksum(record string) byte {
	var sum byte
	for i := 0; i < len(record); i++ {
		sum ^= record[i]
	}
	return sum
}

// ParseFrame splits a radio frame into its record and embedded checksum and
// verifies them.
func ParseFrame(frame string) (string, byte, error) {
	frame = strings.TrimRight(frame, "\r\n")
	if !strings.HasPrefix(frame, "$") {
		return "", 0, fmt.Errorf("%w: missing '$'", ErrMalformedFrame)
	}
	star := strings.LastIndexByte(frame, '*')
	if star < 0 || len(frame)-star != 3 {
		return "", 0, fmt.Errorf("%w: missing checksum", ErrMalformedFrame)
	}
	sum, err := strconv.ParseUint(frame[star+1:], 16, 8)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	record := frame[1:star]
	if Checksum(record) != byte(sum) {
		return record, byte(sum), fmt.Errorf("%w: checksum mismatch", ErrMalformedFrame)
	}
	return record, byte(sum), nil
}

// EmergencyPacket is emitted when assembly fails outright. Only the
// sequence, phase, time and team id survive.
func EmergencyPacket(seq int, phase Phase, at time.Time, teamID string) Packet {
	return Packet{
		Sequence:    seq,
		Phase:       phase,
		Time:        at,
		CommandEcho: EmergencyEcho,
		TeamID:      teamID,
		Emergency:   true,
	}
}
