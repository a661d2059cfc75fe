package triage

import "time"

// Casualty is a tracked person, identified by the stable device EUI of the
// tracker they carry. Created implicitly on first uplink; never deleted by
// this engine.
type Casualty struct {
	DevEUI     string    `json:"dev_eui"`
	GivenName  string    `json:"given_name"`
	FamilyName string    `json:"family_name"`
	Unit       string    `json:"unit"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UnknownName is the placeholder for name parts and units the device
// metadata does not provide.
const UnknownName = "Unknown"

// VitalReading is one decoded telemetry sample. Immutable once persisted;
// Severity is frozen at creation time.
type VitalReading struct {
	ID        string    `json:"id"`
	DevEUI    string    `json:"dev_eui"`
	SpO2      int       `json:"spo2"`
	HeartRate int       `json:"heart_rate"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"` // device clock, UTC
	Severity  Severity  `json:"severity"`
}

// EvacStatus tracks where a casualty is in the evacuation lifecycle.
type EvacStatus string

const (
	EvacNotNeeded  EvacStatus = "NOT_NEEDED"
	EvacNeeded     EvacStatus = "NEEDED" // default/initial
	EvacInProgress EvacStatus = "IN_PROGRESS"
	EvacEvacuated  EvacStatus = "EVACUATED"
)

// Evacuation is the one-to-one evacuation record for a casualty. Created
// lazily on the first transition attempt. Priority is caller-assigned and
// never derived by the state machine.
type Evacuation struct {
	DevEUI      string     `json:"dev_eui"`
	Status      EvacStatus `json:"status"`
	Priority    int        `json:"priority"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Team        string     `json:"team,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Evacuated reports whether the casualty has been evacuated. A nil record
// means not evacuated.
func (e *Evacuation) Evacuated() bool {
	return e != nil && e.Status == EvacEvacuated
}

// TransitionResult is the explicit outcome of an evacuation transition.
// Rejected transitions are not errors: the record is returned unchanged with
// Applied=false and a reason.
type TransitionResult struct {
	Applied    bool        `json:"applied"`
	Reason     string      `json:"reason,omitempty"`
	Evacuation *Evacuation `json:"evacuation"`
}

// AlertKind categorizes an alert.
type AlertKind string

const (
	AlertNewCasualty      AlertKind = "NEW_CASUALTY"
	AlertCriticalState    AlertKind = "CRITICAL_STATE"
	AlertCriticalDuration AlertKind = "CRITICAL_DURATION"
)

// AlertDetail freezes the location and vitals at the moment an alert was
// raised. Later readings never rewrite it.
type AlertDetail struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	SpO2      int      `json:"spo2"`
	HeartRate int      `json:"heart_rate"`
	Severity  Severity `json:"severity"`
}

// Alert is a deduplicated notification about a casualty. The only mutation
// path is flipping the read flag; alerts are never auto-deleted.
type Alert struct {
	ID        string      `json:"id"`
	DevEUI    string      `json:"dev_eui"`
	Kind      AlertKind   `json:"kind"`
	Message   string      `json:"message"`
	Detail    AlertDetail `json:"detail"`
	CreatedAt time.Time   `json:"created_at"`
	Read      bool        `json:"read"`
	ReadAt    *time.Time  `json:"read_at,omitempty"`
}
