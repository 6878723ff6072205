// Package symptoms records append-only symptom entries for verified patients.
package symptoms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
	"github.com/wolfman30/clinic-frontdesk/internal/normalize"
	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

var symptomsTracer = otel.Tracer("frontdesk.internal.symptoms")

type Status string

const (
	StatusSuccess      Status = "success"
	StatusNotVerified  Status = "not_verified"
	StatusInvalidInput Status = "invalid_input"
	StatusNotFound     Status = "not_found"
	StatusError        Status = "error"
)

// Request is one reported symptom. Severity is 1-10 or nil.
type Request struct {
	SymptomType string
	Description string
	Severity    *int
}

type Result struct {
	Status  Status
	Entry   *domain.SymptomEntry
	Message string
	Err     error
}

func (r Result) Kind() domain.Kind {
	switch r.Status {
	case StatusSuccess:
		return domain.KindNone
	case StatusNotVerified:
		return domain.KindNotVerified
	case StatusInvalidInput:
		return domain.KindValidationFailed
	case StatusNotFound:
		return domain.KindNotFound
	default:
		return domain.KindStoreError
	}
}

// Service writes to the symptoms table after confirming the patient exists.
type Service struct {
	patients records.Table
	symptoms records.Table
	now      func() time.Time
	logger   *logging.Logger
	metrics  *metrics.FrontDeskMetrics
}

func NewService(patients, symptoms records.Table, logger *logging.Logger, m *metrics.FrontDeskMetrics) *Service {
	if patients == nil || symptoms == nil {
		panic("symptoms: patients and symptoms tables required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{patients: patients, symptoms: symptoms, now: time.Now, logger: logger, metrics: m}
}

// Log appends a symptom entry with review status Pending Review. It does not
// judge urgency.
func (s *Service) Log(ctx context.Context, sess *session.Context, req Request) Result {
	ctx, span := symptomsTracer.Start(ctx, "symptoms.log")
	defer span.End()

	res := s.log(ctx, sess, req)
	span.SetAttributes(attribute.String("frontdesk.symptoms.status", string(res.Status)))
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	s.metrics.ObserveOutcome("log_symptom", string(res.Status))
	return res
}

func (s *Service) log(ctx context.Context, sess *session.Context, req Request) Result {
	if !sess.IsVerified() {
		return Result{
			Status:  StatusNotVerified,
			Message: "I need to verify your identity before I can record symptoms. Please tell me your full name and date of birth.",
		}
	}

	symptomType := normalize.Name(req.SymptomType)
	description := normalize.Name(req.Description)
	if symptomType == "" && description == "" {
		return Result{Status: StatusInvalidInput, Message: "Could you describe the symptom you're experiencing?"}
	}
	if symptomType == "" {
		symptomType = "General"
	}
	if req.Severity != nil && (*req.Severity < 1 || *req.Severity > 10) {
		return Result{Status: StatusInvalidInput, Message: "On a scale of 1 to 10, how severe is it?"}
	}

	if _, err := s.patients.LookupPatientRow(ctx, sess.PatientID); err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return Result{
				Status:  StatusNotFound,
				Message: "I couldn't find your patient record. Please verify your identity again so I can log this.",
			}
		}
		return s.storeError("lookup patient", err)
	}

	entry := domain.SymptomEntry{
		PatientID:    sess.PatientID,
		Timestamp:    s.now().UTC(),
		SymptomType:  symptomType,
		Description:  description,
		Severity:     req.Severity,
		ReviewStatus: domain.ReviewPending,
	}
	severity := ""
	if entry.Severity != nil {
		severity = strconv.Itoa(*entry.Severity)
	}
	if _, err := s.symptoms.AppendRow(ctx, map[string]string{
		records.ColPatientID:          entry.PatientID,
		records.ColTimestamp:          entry.Timestamp.Format(time.RFC3339),
		records.ColSymptomType:        entry.SymptomType,
		records.ColSymptomDescription: entry.Description,
		records.ColSeverity:           severity,
		records.ColReviewStatus:       entry.ReviewStatus,
	}); err != nil {
		return s.storeError("append symptom", err)
	}

	sess.AddSymptom(symptomSummary(entry))
	s.logger.Info("symptom logged", "conversation_id", sess.ConversationID, "patient_id", sess.PatientID, "symptom_type", symptomType)
	return Result{
		Status:  StatusSuccess,
		Entry:   &entry,
		Message: "I've recorded your symptoms for the care team to review. If anything gets worse, please seek care right away.",
	}
}

func (s *Service) storeError(op string, err error) Result {
	wrapped := fmt.Errorf("symptoms: %s: %w", op, err)
	s.logger.Error("symptom log failed", "error", wrapped)
	return Result{
		Status:  StatusError,
		Err:     wrapped,
		Message: "I couldn't save that just now. Please try again in a moment.",
	}
}

func symptomSummary(e domain.SymptomEntry) string {
	summary := e.SymptomType
	if e.Description != "" {
		summary += ": " + e.Description
	}
	if e.Severity != nil {
		summary += fmt.Sprintf(" (severity %d)", *e.Severity)
	}
	return summary
}
