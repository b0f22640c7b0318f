package telemetry

import "time"

// MaxDatagramSize is the largest payload the listener reads in one
// datagram. Anything larger is truncated by the read and fails to decode.
const MaxDatagramSize = 64 * 1024

// Record is one flat, timestamped sensor sample. One record travels per
// datagram.
type Record struct {
	Timestamp         time.Time `json:"timestamp"`
	Altitude          float64   `json:"altitude"`
	SpeedX            float64   `json:"speedX"`
	SpeedY            float64   `json:"speedY"`
	SpeedZ            float64   `json:"speedZ"`
	Heading           float64   `json:"heading"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	Temperature       float64   `json:"temperature"`
	BatteryPercentage float64   `json:"batteryPercentage"`
}

// Event is a decoded Record enriched by the pipeline. Events are values
// and are never mutated after construction.
type Event struct {
	Record

	// ProcessingLatency is arrival-to-enqueue time in milliseconds.
	ProcessingLatency float64 `json:"processingLatency"`
	SequenceID        uint64  `json:"sequenceId"`
	Source            string  `json:"source"`
}

// NewEvent enriches rec with its pipeline metadata.
func NewEvent(rec Record, latency time.Duration, seq uint64, source string) Event {
	return Event{
		Record:            rec,
		ProcessingLatency: Milliseconds(latency),
		SequenceID:        seq,
		Source:            source,
	}
}

// Milliseconds converts d to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
