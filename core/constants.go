package core

// AlertStatus represents the status of an alert
type AlertStatus string

const (
	// AlertStatusNew indicates an alert that hasn't been reviewed
	AlertStatusNew AlertStatus = "new"
	// AlertStatusAcknowledged indicates an alert under review
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusResolved indicates a closed alert; resolution re-arms
	// suppression for its dedupe key
	AlertStatusResolved AlertStatus = "resolved"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusNew, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	default:
		return false
	}
}

// MaxWindowEvents caps events retained per correlation window to bound
// memory under pathological event floods; appends past the cap drop the
// oldest retained event. Rule validation keeps thresholds at or below the
// cap so firing is never starved by truncation.
const MaxWindowEvents = 1000
