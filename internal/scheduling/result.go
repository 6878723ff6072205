package scheduling

import "github.com/wolfman30/clinic-frontdesk/internal/domain"

// Status is the outcome of a scheduling operation.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusNotVerified        Status = "not_verified"
	StatusPastDate           Status = "past_date"
	StatusOffDay             Status = "off_day"
	StatusOffTiming          Status = "off_timing"
	StatusInsufficientNotice Status = "insufficient_notice"
	StatusBeyondHorizon      Status = "beyond_horizon"
	StatusUnclearInput       Status = "unclear_input"
	StatusSlotTaken          Status = "slot_taken"
	StatusNotFound           Status = "not_found"
	StatusAlreadyCancelled   Status = "already_cancelled"
	StatusError              Status = "error"
)

// Kind maps a status onto the error taxonomy.
func (s Status) Kind() domain.Kind {
	switch s {
	case StatusSuccess:
		return domain.KindNone
	case StatusNotVerified:
		return domain.KindNotVerified
	case StatusPastDate, StatusOffDay, StatusOffTiming, StatusInsufficientNotice, StatusBeyondHorizon, StatusSlotTaken:
		return domain.KindValidationFailed
	case StatusUnclearInput:
		return domain.KindDefaultedInput
	case StatusNotFound, StatusAlreadyCancelled:
		return domain.KindNotFound
	default:
		return domain.KindStoreError
	}
}

// Result is returned by every Engine operation; none of them return a Go error.
type Result struct {
	Status       Status               `json:"status"`
	Message      string               `json:"message"`
	Appointment  *domain.Appointment  `json:"appointment,omitempty"`
	Appointments []domain.Appointment `json:"appointments,omitempty"`
	// Suggestion is the next valid slot when a slot was rejected.
	Suggestion *Slot            `json:"suggestion,omitempty"`
	Warnings   []domain.Warning `json:"warnings,omitempty"`
	Err        error            `json:"-"`
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

func (r Result) Kind() domain.Kind { return r.Status.Kind() }

var violationStatus = map[Violation]Status{
	ViolationPastDate:           StatusPastDate,
	ViolationOffDay:             StatusOffDay,
	ViolationOffTiming:          StatusOffTiming,
	ViolationInsufficientNotice: StatusInsufficientNotice,
	ViolationBeyondHorizon:      StatusBeyondHorizon,
}
