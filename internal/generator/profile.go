package generator

import (
	"encoding/json"
	"math/rand"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
)

// Mode names a stress profile.
type Mode string

const (
	ModeNormal          Mode = "normal"
	ModeHighFrequency   Mode = "high_frequency"
	ModeBurst           Mode = "burst"
	ModeVariable        Mode = "variable"
	ModeKafkaSimulation Mode = "kafka_simulation"
)

// Profile selects generator timing: each send is followed by a delay of
// Interval plus a uniform random value in [0, Jitter].
type Profile struct {
	Interval time.Duration
	Jitter   time.Duration
}

var modes = []Mode{ModeNormal, ModeHighFrequency, ModeBurst, ModeVariable, ModeKafkaSimulation}

var profiles = map[Mode]Profile{
	ModeNormal:          {Interval: 1000 * time.Millisecond, Jitter: 0},
	ModeHighFrequency:   {Interval: 100 * time.Millisecond, Jitter: 20 * time.Millisecond},
	ModeBurst:           {Interval: 20 * time.Millisecond, Jitter: 50 * time.Millisecond},
	ModeVariable:        {Interval: 500 * time.Millisecond, Jitter: 1500 * time.Millisecond},
	ModeKafkaSimulation: {Interval: 50 * time.Millisecond, Jitter: 10 * time.Millisecond},
}

// ValidModes lists the accepted profile names.
func ValidModes() []string {
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = string(m)
	}
	return out
}

// LookupProfile resolves a profile by name. Unknown names yield an
// invalid_profile error whose data is the list of valid names.
func LookupProfile(name string) (Mode, Profile, error) {
	mode := Mode(name)
	p, ok := profiles[mode]
	if !ok {
		return "", Profile{}, errors.New().
			WithData(errors.ErrInvalidProfile, ValidModes()).
			WithMessage("unknown stress profile " + `"` + name + `"`)
	}
	return mode, p, nil
}

// NextDelay draws the delay before the following send.
func (p Profile) NextDelay(rng *rand.Rand) time.Duration {
	if p.Jitter <= 0 {
		return p.Interval
	}
	return p.Interval + time.Duration(rng.Int63n(int64(p.Jitter)+1))
}

// MarshalJSON renders durations as integer milliseconds.
func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Interval int64 `json:"interval"`
		Jitter   int64 `json:"jitter"`
	}{
		Interval: p.Interval.Milliseconds(),
		Jitter:   p.Jitter.Milliseconds(),
	})
}
