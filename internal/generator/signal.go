package generator

import (
	"math"
	"math/rand"
	"time"

	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

const (
	baseAltitude    = 35000.0
	altitudeSwing   = 2000.0
	baseSpeedX      = 450.0
	baseSpeedY      = 360.0
	baseSpeedZ      = 270.0
	speedSwing      = 30.0
	headingRate     = 3.0 // degrees per second
	baseLatitude    = 40.7128
	baseLongitude   = -74.0060
	positionSwing   = 0.1
	baseTemperature = -45.0
	batteryDrain    = 0.01 // percent per second
)

// Model synthesizes a bounded, time-varying flight signal. Altitude and
// speeds oscillate inside fixed bands, heading wraps through [0, 360)
// and battery drains linearly to zero.
type Model struct {
	start time.Time
	rng   *rand.Rand
}

// NewModel starts a signal at start. rng supplies the perturbations.
func NewModel(start time.Time, rng *rand.Rand) *Model {
	return &Model{start: start, rng: rng}
}

// Sample returns the record for instant now.
func (m *Model) Sample(now time.Time) telemetry.Record {
	t := now.Sub(m.start).Seconds()
	if t < 0 {
		t = 0
	}

	return telemetry.Record{
		Timestamp:         now.UTC(),
		Altitude:          baseAltitude + altitudeSwing*math.Sin(t/60) + m.noise(50),
		SpeedX:            baseSpeedX + speedSwing*math.Sin(t/30) + m.noise(5),
		SpeedY:            baseSpeedY + speedSwing*math.Cos(t/30) + m.noise(5),
		SpeedZ:            baseSpeedZ + speedSwing*math.Sin(t/45) + m.noise(5),
		Heading:           wrapDegrees(90 + headingRate*t + m.noise(1)),
		Latitude:          baseLatitude + positionSwing*math.Sin(t/120),
		Longitude:         baseLongitude + positionSwing*math.Cos(t/120),
		Temperature:       baseTemperature + 5*math.Sin(t/90) + m.noise(0.5),
		BatteryPercentage: math.Max(0, 100-batteryDrain*t),
	}
}

// noise returns a uniform value in [-amplitude, amplitude].
func (m *Model) noise(amplitude float64) float64 {
	return (m.rng.Float64()*2 - 1) * amplitude
}

func wrapDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}
