package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
	"github.com/wolfman30/clinic-frontdesk/internal/normalize"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Config names the sender and the fallback recipient.
type Config struct {
	ClinicName string
	// ClinicInbox receives notices for patients without an email on file.
	ClinicInbox string
}

// Service turns appointment notices into emails.
type Service struct {
	email    EmailSender
	patients records.Table
	cfg      Config
	logger   *logging.Logger
}

// NewService builds a notifier. patients may be nil, in which case only the
// clinic inbox is used.
func NewService(email EmailSender, patients records.Table, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.ClinicName) == "" {
		cfg.ClinicName = "The clinic"
	}
	return &Service{email: email, patients: patients, cfg: cfg, logger: logger}
}

// NotifyAppointment sends one email for a committed booking, reschedule or
// cancellation. A notice with no known recipient is skipped.
func (s *Service) NotifyAppointment(ctx context.Context, n domain.AppointmentNotice) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping", "appointment_id", n.Appointment.ID)
		return nil
	}

	to, toName := s.recipient(ctx, n)
	if to == "" {
		s.logger.Info("notify: no recipient for appointment notice", "appointment_id", n.Appointment.ID, "patient_id", n.PatientID, "event", n.Event)
		return nil
	}

	subject, body := render(s.cfg.ClinicName, n)
	err := s.email.Send(ctx, EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: subject,
		Body:    body,
		Correlation: map[string]string{
			"appointment_id": n.Appointment.ID,
			"patient_id":     n.PatientID,
			"event":          string(n.Event),
		},
	})
	if err != nil {
		return fmt.Errorf("notify: %s %s: %w", n.Event, n.Appointment.ID, err)
	}
	s.logger.Info("notify: appointment email sent", "appointment_id", n.Appointment.ID, "event", n.Event)
	return nil
}

func (s *Service) recipient(ctx context.Context, n domain.AppointmentNotice) (string, string) {
	if s.patients != nil && n.PatientID != "" {
		row, err := s.patients.LookupPatientRow(ctx, n.PatientID)
		switch {
		case err == nil:
			if email := strings.TrimSpace(row.Get(records.ColEmail)); email != "" {
				name := n.PatientName
				if name == "" {
					name = row.Get(records.ColName)
				}
				return email, name
			}
		case !errors.Is(err, records.ErrNotFound):
			s.logger.Warn("notify: patient lookup failed, using clinic inbox", "patient_id", n.PatientID, "error", err)
		}
	}
	return strings.TrimSpace(s.cfg.ClinicInbox), s.cfg.ClinicName
}

func render(clinic string, n domain.AppointmentNotice) (string, string) {
	name := n.PatientName
	if name == "" {
		name = "there"
	}
	when := describeSlot(n.Appointment)

	var subject, lead string
	switch n.Event {
	case domain.EventRescheduled:
		subject = "Your appointment has been rescheduled"
		lead = fmt.Sprintf("Your appointment has moved to %s.", when)
		if n.Previous != nil {
			lead = fmt.Sprintf("Your appointment on %s has moved to %s.", describeSlot(*n.Previous), when)
		}
	case domain.EventCancelled:
		subject = "Your appointment has been cancelled"
		lead = fmt.Sprintf("Your appointment on %s has been cancelled.", when)
	default:
		subject = "Your appointment is confirmed"
		lead = fmt.Sprintf("Your appointment is booked for %s.", when)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n%s\n\n", name, lead)
	fmt.Fprintf(&b, "Appointment ID: %s\n", n.Appointment.ID)
	if n.Appointment.Reason != "" && n.Event != domain.EventCancelled {
		fmt.Fprintf(&b, "Reason: %s\n", n.Appointment.Reason)
	}
	fmt.Fprintf(&b, "\nReply to this email or chat with us to make changes.\n\n%s", clinic)
	return subject, b.String()
}

func describeSlot(a domain.Appointment) string {
	date, err := normalize.ParseDate(a.Date, time.UTC)
	if err != nil {
		return fmt.Sprintf("%s at %s", a.Date, a.Time)
	}
	return fmt.Sprintf("%s at %s", date.Format("Monday, 2 January 2006"), a.Time)
}
