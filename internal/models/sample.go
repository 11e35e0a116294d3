package models

// Sample is a single raw sensor reading from the workout monitor
type Sample struct {
	Timestamp int64   `json:"timestamp"` // Unix timestamp in milliseconds
	AccelX    float64 `json:"accelX"`
	AccelY    float64 `json:"accelY"`
	AccelZ    float64 `json:"accelZ"`
	GyroX     float64 `json:"gyroX"`
	GyroY     float64 `json:"gyroY"`
	GyroZ     float64 `json:"gyroZ"`
}

// SensorBatch is the payload of a sensor_batch job
type SensorBatch struct {
	SessionID string   `json:"sessionId"`
	Sequence  int      `json:"sequence"`
	Samples   []Sample `json:"samples"`
}
