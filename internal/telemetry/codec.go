package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
)

// wireRecord mirrors Record with optional fields so that a missing key
// can be told apart from a zero value.
type wireRecord struct {
	Timestamp         *string  `json:"timestamp"`
	Altitude          *float64 `json:"altitude"`
	SpeedX            *float64 `json:"speedX"`
	SpeedY            *float64 `json:"speedY"`
	SpeedZ            *float64 `json:"speedZ"`
	Heading           *float64 `json:"heading"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	Temperature       *float64 `json:"temperature"`
	BatteryPercentage *float64 `json:"batteryPercentage"`
}

// Encode renders rec as a single UTF-8 JSON datagram body.
func Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrEncodeFailed, err)
	}
	if len(data) > MaxDatagramSize {
		return nil, errors.New().WithData(errors.ErrEncodeFailed, len(data))
	}
	return data, nil
}

// Decode parses one datagram body. Every field is required; numeric
// fields must be JSON numbers and timestamp an RFC 3339 string.
func Decode(payload []byte) (Record, error) {
	errFactory := errors.New()

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Record{}, errFactory.WithMessage(errors.ErrDecodeFailed, "empty payload")
	}

	var wire wireRecord
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Record{}, errFactory.Wrap(errors.ErrDecodeFailed, err)
	}

	if wire.Timestamp == nil {
		return Record{}, errFactory.WithData(errors.ErrInvalidRecord, "missing field timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, *wire.Timestamp)
	if err != nil {
		return Record{}, errFactory.Wrap(errors.ErrInvalidRecord, err)
	}

	fields := []struct {
		name  string
		value *float64
	}{
		{"altitude", wire.Altitude},
		{"speedX", wire.SpeedX},
		{"speedY", wire.SpeedY},
		{"speedZ", wire.SpeedZ},
		{"heading", wire.Heading},
		{"latitude", wire.Latitude},
		{"longitude", wire.Longitude},
		{"temperature", wire.Temperature},
		{"batteryPercentage", wire.BatteryPercentage},
	}
	for _, f := range fields {
		if f.value == nil {
			return Record{}, errFactory.WithData(errors.ErrInvalidRecord, "missing field "+f.name)
		}
		if math.IsNaN(*f.value) || math.IsInf(*f.value, 0) {
			return Record{}, errFactory.WithData(errors.ErrInvalidRecord, "non-finite field "+f.name)
		}
	}

	return Record{
		Timestamp:         ts,
		Altitude:          *wire.Altitude,
		SpeedX:            *wire.SpeedX,
		SpeedY:            *wire.SpeedY,
		SpeedZ:            *wire.SpeedZ,
		Heading:           *wire.Heading,
		Latitude:          *wire.Latitude,
		Longitude:         *wire.Longitude,
		Temperature:       *wire.Temperature,
		BatteryPercentage: *wire.BatteryPercentage,
	}, nil
}
