// Package domain holds the records the front desk reads and writes.
package domain

import (
	"strings"
	"time"
)

// Patient is an identity record. Name plus DOB is the natural key.
type Patient struct {
	ID          string `json:"patient_id"`
	FullName    string `json:"full_name"`
	DateOfBirth string `json:"date_of_birth"` // YYYY-MM-DD
	Email       string `json:"email,omitempty"`
}

// AppointmentStatus is the lifecycle state stored in "Appointment Status".
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "Scheduled"
	StatusCancelled AppointmentStatus = "Cancelled"
	StatusCompleted AppointmentStatus = "Completed"
)

// ParseAppointmentStatus matches a stored status case-insensitively.
// Blank or unknown values are treated as Scheduled.
func ParseAppointmentStatus(raw string) AppointmentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cancelled", "canceled":
		return StatusCancelled
	case "completed":
		return StatusCompleted
	default:
		return StatusScheduled
	}
}

// Live reports whether the appointment still occupies its slot.
func (s AppointmentStatus) Live() bool {
	return s != StatusCancelled && s != StatusCompleted
}

// DefaultReason is stored when the patient gives no reason for a visit.
const DefaultReason = "Regular Checkup"

// Appointment is owned by exactly one patient. ID never changes after booking.
type Appointment struct {
	ID        string            `json:"appointment_id"`
	PatientID string            `json:"patient_id"`
	Date      string            `json:"date"` // YYYY-MM-DD
	Time      string            `json:"time"` // HH:MM, 24h
	Status    AppointmentStatus `json:"status"`
	Reason    string            `json:"reason"`
	CreatedAt time.Time         `json:"created_at"`
}

// Live reports whether the appointment is neither cancelled nor completed.
func (a Appointment) Live() bool {
	return a.Status.Live()
}

// ReviewPending is the review status every new symptom entry starts with.
const ReviewPending = "Pending Review"

// SymptomEntry is append-only.
type SymptomEntry struct {
	PatientID    string    `json:"patient_id"`
	Timestamp    time.Time `json:"timestamp"`
	SymptomType  string    `json:"symptom_type"`
	Description  string    `json:"description"`
	Severity     *int      `json:"severity,omitempty"`
	ReviewStatus string    `json:"review_status"`
}

// AppointmentEvent names a committed scheduling mutation.
type AppointmentEvent string

const (
	EventBooked      AppointmentEvent = "booked"
	EventRescheduled AppointmentEvent = "rescheduled"
	EventCancelled   AppointmentEvent = "cancelled"
)

// AppointmentNotice describes a committed change for outbound notification.
type AppointmentNotice struct {
	Event       AppointmentEvent
	PatientID   string
	PatientName string
	Appointment Appointment
	Previous    *Appointment
}
