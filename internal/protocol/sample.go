package protocol

// MotionSample is one calibrated reading. An accelerometer report fills only the
// accel triple (g) and a gyroscope report fills only the gyro triple (°/s).
// Temperature is not reported by the sensor and stays zero.
type MotionSample struct {
	TimestampS  float64 `json:"timestampS" cbor:"timestampS"`
	Temperature float64 `json:"temp" cbor:"temp"`
	AccelX      float64 `json:"ax" cbor:"ax"`
	AccelY      float64 `json:"ay" cbor:"ay"`
	AccelZ      float64 `json:"az" cbor:"az"`
	GyroX       float64 `json:"gx" cbor:"gx"`
	GyroY       float64 `json:"gy" cbor:"gy"`
	GyroZ       float64 `json:"gz" cbor:"gz"`
}
