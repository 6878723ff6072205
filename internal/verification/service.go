// Package verification matches a patient by name and date of birth, or
// registers a new one, and flips the session's verification gate.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
	"github.com/wolfman30/clinic-frontdesk/internal/ids"
	"github.com/wolfman30/clinic-frontdesk/internal/lock"
	"github.com/wolfman30/clinic-frontdesk/internal/normalize"
	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

var verificationTracer = otel.Tracer("frontdesk.internal.verification")

// Status is the outcome of a verification attempt.
type Status string

const (
	StatusVerified     Status = "verified"
	StatusCreated      Status = "created"
	StatusNotVerified  Status = "not_verified"
	StatusInvalidInput Status = "invalid_input"
	StatusFailed       Status = "failed"
)

// Request carries what the patient told us.
type Request struct {
	Name  string
	DOB   string
	Email string
}

// Result is always returned; Err is set only for StatusFailed.
type Result struct {
	Status      Status
	PatientID   string
	PatientName string
	Message     string
	Kind        domain.Kind
	Warnings    []domain.Warning
	Err         error
}

// OK reports whether the session is now verified.
func (r Result) OK() bool {
	return r.Status == StatusVerified || r.Status == StatusCreated
}

const maxIDAttempts = 5

// Service verifies patients against the patients table.
type Service struct {
	patients records.Table
	locker   lock.Locker
	ids      ids.Generator
	now      func() time.Time
	logger   *logging.Logger
	metrics  *metrics.FrontDeskMetrics
}

// Option customizes a Service.
type Option func(*Service)

func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDs(g ids.Generator) Option {
	return func(s *Service) { s.ids = g }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.FrontDeskMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a verification service over the patients table.
func NewService(patients records.Table, opts ...Option) *Service {
	if patients == nil {
		panic("verification: patients table required")
	}
	s := &Service{
		patients: patients,
		locker:   lock.NewKeyedMutex(),
		now:      time.Now,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify matches req against existing patients or creates one. The session is
// only modified on a verified or created outcome.
func (s *Service) Verify(ctx context.Context, sess *session.Context, req Request) Result {
	ctx, span := verificationTracer.Start(ctx, "verification.verify")
	defer span.End()

	res := s.verify(ctx, sess, req)
	span.SetAttributes(attribute.String("frontdesk.verification.status", string(res.Status)))
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	s.metrics.ObserveOutcome("verify", string(res.Status))
	return res
}

func (s *Service) verify(ctx context.Context, sess *session.Context, req Request) Result {
	if sess.IsVerified() {
		return Result{
			Status:      StatusVerified,
			PatientID:   sess.PatientID,
			PatientName: sess.PatientName,
			Message:     fmt.Sprintf("You're already verified as %s.", sess.PatientName),
		}
	}

	name := normalize.Name(req.Name)
	if name == "" {
		return Result{
			Status:  StatusInvalidInput,
			Kind:    domain.KindValidationFailed,
			Message: "Please tell me your full name so I can look up your record.",
		}
	}

	now := s.now()
	dob := normalize.Date(req.DOB, now)
	if dob.Defaulted {
		s.logger.Warn("verification: date of birth not understood",
			"field", "dob", "raw", req.DOB, "defaulted_to", dob.Value)
		s.metrics.ObserveDefaulted("dob")
		return Result{
			Status:   StatusInvalidInput,
			Kind:     domain.KindDefaultedInput,
			Warnings: []domain.Warning{{Field: "dob", Raw: req.DOB, DefaultedTo: dob.Value}},
			Message:  "I couldn't read that date of birth. Could you give it like 16 Sep 2002 or 2002-09-16?",
		}
	}
	if dob.Value > now.Format(normalize.DateLayout) {
		return Result{
			Status:  StatusInvalidInput,
			Kind:    domain.KindValidationFailed,
			Message: "That date of birth is in the future. Could you double-check it?",
		}
	}

	unlock, err := s.locker.Lock(ctx, "patient-name:"+normalize.Key(name))
	if err != nil {
		return s.failed(err, "verification: lock")
	}
	defer unlock()

	rows, err := s.patients.LookupRowsByColumn(ctx, records.ColName, name)
	if err != nil {
		return s.failed(err, "verification: lookup by name")
	}

	for _, row := range rows {
		stored := row.Get(records.ColDOB)
		if normalize.Date(stored, now).Value != dob.Value {
			continue
		}
		patient := domain.Patient{
			ID:          row.Get(records.ColPatientID),
			FullName:    row.Get(records.ColName),
			DateOfBirth: dob.Value,
		}
		if patient.ID == "" {
			continue
		}
		sess.MarkVerified(patient.ID, patient.FullName)
		s.logger.Info("patient verified", "conversation_id", sess.ConversationID, "patient_id", patient.ID)
		return Result{
			Status:      StatusVerified,
			PatientID:   patient.ID,
			PatientName: patient.FullName,
			Message:     fmt.Sprintf("Welcome back %s! You're successfully verified.", patient.FullName),
		}
	}

	if len(rows) > 0 {
		s.logger.Info("verification: date of birth mismatch", "conversation_id", sess.ConversationID, "matches", len(rows))
		return Result{
			Status:  StatusNotVerified,
			Kind:    domain.KindNotVerified,
			Message: fmt.Sprintf("I found a record for %s, but the date of birth doesn't match. Please double-check your date of birth.", name),
		}
	}

	patient, err := s.create(ctx, name, dob.Value, normalize.Name(req.Email))
	if err != nil {
		return s.failed(err, "verification: create patient")
	}
	sess.MarkVerified(patient.ID, patient.FullName)
	s.logger.Info("patient created", "conversation_id", sess.ConversationID, "patient_id", patient.ID)
	return Result{
		Status:      StatusCreated,
		PatientID:   patient.ID,
		PatientName: patient.FullName,
		Message:     fmt.Sprintf("New patient record created. Your patient ID is %s. You're now verified.", patient.ID),
	}
}

// create appends a patient with a collision-checked id. The store's unique key
// on Pat Num catches races the pre-check misses.
func (s *Service) create(ctx context.Context, name, dob, email string) (domain.Patient, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.ids.Patient()
		_, err := s.patients.LookupPatientRow(ctx, id)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, records.ErrNotFound):
			return domain.Patient{}, err
		}

		_, err = s.patients.AppendRow(ctx, map[string]string{
			records.ColPatientID: id,
			records.ColName:      name,
			records.ColDOB:       dob,
			records.ColEmail:     email,
		})
		if errors.Is(err, records.ErrDuplicate) {
			continue
		}
		if err != nil {
			return domain.Patient{}, err
		}
		return domain.Patient{ID: id, FullName: name, DateOfBirth: dob, Email: email}, nil
	}
	return domain.Patient{}, fmt.Errorf("no unique patient id after %d attempts", maxIDAttempts)
}

func (s *Service) failed(err error, op string) Result {
	wrapped := fmt.Errorf("%s: %w", op, err)
	s.logger.Error("verification failed", "error", wrapped)
	return Result{
		Status:  StatusFailed,
		Kind:    domain.KindStoreError,
		Err:     wrapped,
		Message: "I couldn't reach our patient records just now. Please try again in a moment.",
	}
}
