package triage

// Severity categorizes a single reading's medical urgency, or flags it as a
// sensor fault. It is computed once when the reading is persisted and never
// re-derived: a threshold change applies to future readings only.
type Severity string

const (
	// SeveritySensorError means the device reported a non-positive vital,
	// i.e. the sensor is faulted or detached.
	SeveritySensorError Severity = "SENSOR_ERROR"

	// SeveritySpO2 means blood oxygen is critically low.
	SeveritySpO2 Severity = "SPO2"

	// SeverityHR means heart rate is critically high or low.
	SeverityHR Severity = "HR"

	// SeverityBoth means both SpO2 and heart rate are critical.
	SeverityBoth Severity = "BOTH"

	// SeverityNormal means all vitals are within range.
	SeverityNormal Severity = "NORMAL"
)

// Classification thresholds. Fixed constants, not configuration.
const (
	spo2CriticalBelow = 90
	hrCriticalAbove   = 120
	hrCriticalBelow   = 40
)

// Classify maps raw vitals to a Severity. The sensor-fault check runs first;
// reordering the checks changes outcomes on boundary inputs, so the order is
// part of the contract.
func Classify(spo2, heartRate int) Severity {
	if spo2 <= 0 || heartRate <= 0 {
		return SeveritySensorError
	}

	spo2Critical := spo2 < spo2CriticalBelow
	hrCritical := heartRate > hrCriticalAbove || heartRate < hrCriticalBelow

	switch {
	case spo2Critical && hrCritical:
		return SeverityBoth
	case spo2Critical:
		return SeveritySpO2
	case hrCritical:
		return SeverityHR
	default:
		return SeverityNormal
	}
}

// Critical reports whether the severity represents a medically critical
// reading. Sensor errors are not critical: the casualty's state is unknown,
// not known-bad.
func (s Severity) Critical() bool {
	return s == SeveritySpO2 || s == SeverityHR || s == SeverityBoth
}
