package telemetry

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// payloadLen is the minimum tracker payload size. Firmware revisions may
// append extra bytes; anything past offset 13 is ignored.
const payloadLen = 14

// coordScale is the fixed-point scale the tracker applies to coordinates
// before packing them into signed 32-bit integers.
const coordScale = 1e6

// Draft is a decoded, not-yet-persisted vitals/location/time tuple.
//
// SpO2 and HeartRate are raw device values; zero or negative signals a sensor
// fault and is preserved as-is for the classifier.
type Draft struct {
	SpO2      int
	HeartRate int
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// DecodeBase64Payload base64-decodes the uplink data field and decodes the
// binary payload.
func DecodeBase64Payload(data string) (*Draft, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedPayload, err)
	}
	return DecodePayload(raw)
}

// DecodePayload decodes the tracker's fixed big-endian layout:
//
//	offset 0  1 byte   SpO2 (uint8)
//	offset 1  1 byte   heart rate (uint8)
//	offset 2  4 bytes  latitude  (int32, degrees * 1e6)
//	offset 6  4 bytes  longitude (int32, degrees * 1e6)
//	offset 10 4 bytes  timestamp (uint32, Unix seconds, UTC)
//
// This layout is the compatibility contract with deployed firmware and must
// not change.
func DecodePayload(raw []byte) (*Draft, error) {
	if len(raw) < payloadLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrMalformedPayload, len(raw), payloadLen)
	}

	lat := int32(binary.BigEndian.Uint32(raw[2:6]))
	lon := int32(binary.BigEndian.Uint32(raw[6:10]))
	ts := binary.BigEndian.Uint32(raw[10:14])

	return &Draft{
		SpO2:      int(raw[0]),
		HeartRate: int(raw[1]),
		Latitude:  float64(lat) / coordScale,
		Longitude: float64(lon) / coordScale,
		Timestamp: time.Unix(int64(ts), 0).UTC(),
	}, nil
}
