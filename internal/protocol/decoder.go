package protocol

// Axis selects which triple of a MotionSample a report command fills.
type Axis int

const (
	AxisAccel Axis = iota
	AxisGyro
)

// Scale converts raw int16 readings to physical units: value = Range * raw / Divisor.
type Scale struct {
	Axis    Axis
	Range   float64
	Divisor float64
}

func (s Scale) apply(raw int16) float64 {
	return s.Range * float64(raw) / s.Divisor
}

// DefaultScales maps report commands to their unit conversion.
//
// The gyroscope divisor is empirical, not the nominal int16 full scale.
var DefaultScales = map[Command]Scale{
	CmdAccel: {Axis: AxisAccel, Range: 16.0, Divisor: 32768.0},
	CmdGyro:  {Axis: AxisGyro, Range: 500.0, Divisor: 28571.0},
}

// Decoder turns notification frames into motion samples.
type Decoder struct {
	// Scales defaults to DefaultScales when nil.
	Scales map[Command]Scale

	// KeepUnknown emits a zeroed, timestamped sample for well-formed frames with
	// an unknown command instead of dropping them.
	KeepUnknown bool

	// Now defaults to MonotonicSeconds when nil.
	Now func() float64
}

// Decode validates frame and converts it. It reports false when the frame is
// malformed or, unless KeepUnknown is set, carries an unknown command.
// Decode never retains frame.
func (d *Decoder) Decode(frame []byte) (MotionSample, bool) {
	r, ok := ParseReport(frame)
	if !ok {
		return MotionSample{}, false
	}

	scales := d.Scales
	if scales == nil {
		scales = DefaultScales
	}
	scale, known := scales[r.Command]
	if !known && !d.KeepUnknown {
		return MotionSample{}, false
	}

	now := d.Now
	if now == nil {
		now = MonotonicSeconds
	}
	s := MotionSample{TimestampS: now()}
	if !known {
		return s, true
	}

	x, y, z := scale.apply(r.X), scale.apply(r.Y), scale.apply(r.Z)
	switch scale.Axis {
	case AxisAccel:
		s.AccelX, s.AccelY, s.AccelZ = x, y, z
	case AxisGyro:
		s.GyroX, s.GyroY, s.GyroZ = x, y, z
	}
	return s, true
}
