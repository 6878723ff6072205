// Package scheduling validates and mutates appointments for verified patients.
//
// Every operation checks the verification gate, then normalizes and validates
// its input, and only then touches the Record Store. Validation failures never
// cost a store round-trip.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
	"github.com/wolfman30/clinic-frontdesk/internal/ids"
	"github.com/wolfman30/clinic-frontdesk/internal/lock"
	"github.com/wolfman30/clinic-frontdesk/internal/normalize"
	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

var schedulingTracer = otel.Tracer("frontdesk.internal.scheduling")

// ErrConflict is returned when a row changed between read and conditional write.
var ErrConflict = errors.New("scheduling: appointment changed concurrently")

// Notifier delivers appointment notices. Failures are logged, never rolled back.
type Notifier interface {
	NotifyAppointment(ctx context.Context, notice domain.AppointmentNotice) error
}

type BookRequest struct {
	Date   string
	Time   string
	Reason string
}

type RescheduleRequest struct {
	AppointmentID string
	Date          string
	Time          string
}

type CancelRequest struct {
	AppointmentID string
	Reason        string
}

const (
	defaultNotifyTimeout = 10 * time.Second
	maxAppendAttempts    = 3
)

// Engine applies Rules to the appointments table.
type Engine struct {
	appointments  records.Table
	rules         Rules
	locker        lock.Locker
	ids           ids.Generator
	notifier      Notifier
	notifyTimeout time.Duration
	now           func() time.Time
	logger        *logging.Logger
	metrics       *metrics.FrontDeskMetrics
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.notifyTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDs(g ids.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.FrontDeskMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs a scheduling engine. It panics on inconsistent rules.
func NewEngine(appointments records.Table, rules Rules, opts ...Option) *Engine {
	if appointments == nil {
		panic("scheduling: appointments table required")
	}
	if err := rules.Validate(); err != nil {
		panic(err)
	}
	e := &Engine{
		appointments:  appointments,
		rules:         rules,
		locker:        lock.NewKeyedMutex(),
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
		logger:        logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the engine's rules.
func (e *Engine) Rules() Rules { return e.rules }

func (e *Engine) clock() time.Time {
	return e.now().In(e.rules.location())
}

// Book creates a Scheduled appointment for the session's patient.
func (e *Engine) Book(ctx context.Context, sess *session.Context, req BookRequest) Result {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.book")
	defer span.End()
	res := e.book(ctx, sess, req)
	e.finish(span, "book", sess, res)
	return res
}

func (e *Engine) book(ctx context.Context, sess *session.Context, req BookRequest) Result {
	if !sess.IsVerified() {
		return notVerified()
	}
	now := e.clock()
	slot, warnings, res, ok := e.resolve(req.Date, req.Time, now)
	if !ok {
		return res
	}

	unlock, err := e.locker.Lock(ctx, patientLockKey(sess.PatientID))
	if err != nil {
		return e.storeError("lock patient", err)
	}
	defer unlock()

	unlockSlot, full, err := e.claimSlot(ctx, slot, "")
	if err != nil {
		return e.storeError("check slot", err)
	}
	defer unlockSlot()
	if full != nil {
		return e.slotTaken(slot, now, full, warnings)
	}

	reason := normalize.Name(req.Reason)
	if reason == "" {
		reason = domain.DefaultReason
	}
	appt := domain.Appointment{
		PatientID: sess.PatientID,
		Date:      slot.Date,
		Time:      slot.Time,
		Status:    domain.StatusScheduled,
		Reason:    reason,
		CreatedAt: now,
	}
	for attempt := 0; ; attempt++ {
		appt.ID = e.ids.Appointment(now)
		_, err = e.appointments.AppendRow(ctx, appointmentCells(appt))
		if errors.Is(err, records.ErrDuplicate) && attempt+1 < maxAppendAttempts {
			continue
		}
		break
	}
	if err != nil {
		return e.storeError("append appointment", err)
	}

	sess.UpsertAppointment(appt)
	e.notify(ctx, domain.AppointmentNotice{
		Event:       domain.EventBooked,
		PatientID:   sess.PatientID,
		PatientName: sess.PatientName,
		Appointment: appt,
	})
	return Result{
		Status:      StatusSuccess,
		Appointment: &appt,
		Warnings:    warnings,
		Message: fmt.Sprintf("Your appointment is booked for %s at %s. Your appointment ID is %s.",
			humanDate(appt.Date, e.rules.location()), appt.Time, appt.ID),
	}
}

// List returns the patient's live appointments and rebuilds the session cache from them.
func (e *Engine) List(ctx context.Context, sess *session.Context) Result {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.list")
	defer span.End()
	res := e.list(ctx, sess)
	e.finish(span, "list", sess, res)
	return res
}

func (e *Engine) list(ctx context.Context, sess *session.Context) Result {
	if !sess.IsVerified() {
		return notVerified()
	}
	rows, err := e.appointments.LookupRowsByColumn(ctx, records.ColPatientID, sess.PatientID)
	if err != nil {
		return e.storeError("list appointments", err)
	}
	now := e.clock()
	var live []domain.Appointment
	for _, row := range rows {
		appt := toAppointment(row, now)
		if appt.Live() {
			live = append(live, appt)
		}
	}
	sortAppointments(live)
	sess.ReplaceAppointments(live)

	if len(live) == 0 {
		return Result{Status: StatusSuccess, Message: "You have no upcoming appointments. Would you like to book one?"}
	}
	return Result{
		Status:       StatusSuccess,
		Appointments: live,
		Message:      fmt.Sprintf("You have %d upcoming appointment(s).", len(live)),
	}
}

// Reschedule moves an appointment to a new slot in place. The id and owner never change.
func (e *Engine) Reschedule(ctx context.Context, sess *session.Context, req RescheduleRequest) Result {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.appointment_id", req.AppointmentID))
	res := e.reschedule(ctx, sess, req)
	e.finish(span, "reschedule", sess, res)
	return res
}

func (e *Engine) reschedule(ctx context.Context, sess *session.Context, req RescheduleRequest) Result {
	if !sess.IsVerified() {
		return notVerified()
	}
	if normalize.Name(req.AppointmentID) == "" {
		return missingAppointmentID()
	}
	now := e.clock()
	slot, warnings, res, ok := e.resolve(req.Date, req.Time, now)
	if !ok {
		return res
	}

	unlock, err := e.locker.Lock(ctx, patientLockKey(sess.PatientID))
	if err != nil {
		return e.storeError("lock patient", err)
	}
	defer unlock()

	row, found, err := e.findOwned(ctx, sess.PatientID, req.AppointmentID)
	if err != nil {
		return e.storeError("find appointment", err)
	}
	if !found {
		sess.RemoveAppointment(req.AppointmentID)
		return notFound(req.AppointmentID)
	}
	previous := toAppointment(row, now)
	if !previous.Live() {
		sess.RemoveAppointment(previous.ID)
		return Result{
			Status:  StatusNotFound,
			Message: fmt.Sprintf("Appointment %s is %s and can't be rescheduled. Would you like to book a new one?", previous.ID, previous.Status),
		}
	}

	unlockSlot, full, err := e.claimSlot(ctx, slot, previous.ID)
	if err != nil {
		return e.storeError("check slot", err)
	}
	defer unlockSlot()
	if full != nil {
		return e.slotTaken(slot, now, full, warnings)
	}

	applied, err := e.appointments.UpdateCellsIf(ctx, row.Index,
		map[string]string{
			records.ColAppointmentID:     row.Get(records.ColAppointmentID),
			records.ColAppointmentStatus: row.Get(records.ColAppointmentStatus),
			records.ColAppointmentDate:   row.Get(records.ColAppointmentDate),
			records.ColAppointmentTime:   row.Get(records.ColAppointmentTime),
		},
		map[string]string{
			records.ColAppointmentDate: slot.Date,
			records.ColAppointmentTime: slot.Time,
		})
	if err != nil {
		return e.storeError("update appointment", err)
	}
	if !applied {
		return e.storeError("update appointment", ErrConflict)
	}

	updated := previous
	updated.Date = slot.Date
	updated.Time = slot.Time
	sess.UpsertAppointment(updated)
	e.notify(ctx, domain.AppointmentNotice{
		Event:       domain.EventRescheduled,
		PatientID:   sess.PatientID,
		PatientName: sess.PatientName,
		Appointment: updated,
		Previous:    &previous,
	})
	return Result{
		Status:      StatusSuccess,
		Appointment: &updated,
		Warnings:    warnings,
		Message: fmt.Sprintf("Appointment %s is moved to %s at %s.",
			updated.ID, humanDate(updated.Date, e.rules.location()), updated.Time),
	}
}

// Cancel marks an appointment Cancelled. The row is kept for audit.
func (e *Engine) Cancel(ctx context.Context, sess *session.Context, req CancelRequest) Result {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.appointment_id", req.AppointmentID))
	res := e.cancel(ctx, sess, req)
	e.finish(span, "cancel", sess, res)
	return res
}

func (e *Engine) cancel(ctx context.Context, sess *session.Context, req CancelRequest) Result {
	if !sess.IsVerified() {
		return notVerified()
	}
	if normalize.Name(req.AppointmentID) == "" {
		return missingAppointmentID()
	}

	unlock, err := e.locker.Lock(ctx, patientLockKey(sess.PatientID))
	if err != nil {
		return e.storeError("lock patient", err)
	}
	defer unlock()

	row, found, err := e.findOwned(ctx, sess.PatientID, req.AppointmentID)
	if err != nil {
		return e.storeError("find appointment", err)
	}
	if !found {
		sess.RemoveAppointment(req.AppointmentID)
		return notFound(req.AppointmentID)
	}
	now := e.clock()
	appt := toAppointment(row, now)
	switch appt.Status {
	case domain.StatusCancelled:
		sess.RemoveAppointment(appt.ID)
		return alreadyCancelled(appt.ID)
	case domain.StatusCompleted:
		sess.RemoveAppointment(appt.ID)
		return Result{
			Status:  StatusNotFound,
			Message: fmt.Sprintf("Appointment %s is already completed, so there is nothing to cancel.", appt.ID),
		}
	}

	reason := normalize.Name(req.Reason)
	applied, err := e.appointments.UpdateCellsIf(ctx, row.Index,
		map[string]string{
			records.ColAppointmentID:     row.Get(records.ColAppointmentID),
			records.ColAppointmentStatus: row.Get(records.ColAppointmentStatus),
		},
		map[string]string{
			records.ColAppointmentStatus:  string(domain.StatusCancelled),
			records.ColCancellationReason: reason,
		})
	if err != nil {
		return e.storeError("cancel appointment", err)
	}
	if !applied {
		return e.storeError("cancel appointment", ErrConflict)
	}

	appt.Status = domain.StatusCancelled
	sess.RemoveAppointment(appt.ID)
	e.notify(ctx, domain.AppointmentNotice{
		Event:       domain.EventCancelled,
		PatientID:   sess.PatientID,
		PatientName: sess.PatientName,
		Appointment: appt,
	})
	return Result{
		Status:      StatusSuccess,
		Appointment: &appt,
		Message: fmt.Sprintf("Appointment %s on %s at %s is cancelled.",
			appt.ID, humanDate(appt.Date, e.rules.location()), appt.Time),
	}
}

// resolve normalizes and validates a requested slot. When ok is false, res is
// the outcome to return.
func (e *Engine) resolve(rawDate, rawTime string, now time.Time) (Slot, []domain.Warning, Result, bool) {
	date := normalize.Date(rawDate, now)
	clock := normalize.Time(rawTime)
	slot := Slot{Date: date.Value, Time: clock.Value}

	var warnings []domain.Warning
	if date.Defaulted {
		warnings = append(warnings, domain.Warning{Field: "date", Raw: rawDate, DefaultedTo: date.Value})
	}
	if clock.Defaulted {
		warnings = append(warnings, domain.Warning{Field: "time", Raw: rawTime, DefaultedTo: clock.Value})
	}
	for _, w := range warnings {
		e.logger.Warn("scheduling: input not understood", "field", w.Field, "raw", w.Raw, "defaulted_to", w.DefaultedTo)
		e.metrics.ObserveDefaulted(w.Field)
	}
	if len(warnings) > 0 && e.rules.StrictInput {
		return slot, warnings, Result{
			Status:   StatusUnclearInput,
			Warnings: warnings,
			Message:  unclearMessage(warnings),
		}, false
	}

	violation, err := e.rules.Check(slot.Date, slot.Time, now)
	if err != nil {
		return slot, warnings, Result{Status: StatusUnclearInput, Warnings: warnings, Message: "I couldn't understand that date or time. Could you rephrase it?", Err: err}, false
	}
	if violation != ViolationNone {
		res := Result{
			Status:   violationStatus[violation],
			Warnings: warnings,
			Message:  e.violationMessage(violation, slot),
		}
		if next, ok := e.rules.NextValid(slot.Date, slot.Time, now, nil); ok {
			res.Suggestion = &next
			res.Message += fmt.Sprintf(" The next available slot is %s at %s.", humanDate(next.Date, e.rules.location()), next.Time)
		}
		return slot, warnings, res, false
	}
	return slot, warnings, Result{}, true
}

// claimSlot takes the slot lock and checks capacity. A non-nil full map
// means the slot is at capacity; it holds the live counts seen for that date.
func (e *Engine) claimSlot(ctx context.Context, slot Slot, ignoreID string) (func(), map[string]int, error) {
	if e.rules.SlotCapacity <= 0 {
		return func() {}, nil, nil
	}
	unlock, err := e.locker.Lock(ctx, slotLockKey(slot))
	if err != nil {
		return nil, nil, err
	}
	rows, err := e.appointments.LookupRowsByColumn(ctx, records.ColAppointmentDate, slot.Date)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	counts := map[string]int{}
	now := e.clock()
	for _, row := range rows {
		appt := toAppointment(row, now)
		if !appt.Live() || appt.ID == ignoreID {
			continue
		}
		counts[appt.Time]++
	}
	if counts[slot.Time] >= e.rules.SlotCapacity {
		return unlock, counts, nil
	}
	return unlock, nil, nil
}

func (e *Engine) slotTaken(slot Slot, now time.Time, counts map[string]int, warnings []domain.Warning) Result {
	res := Result{
		Status:   StatusSlotTaken,
		Warnings: warnings,
		Message:  fmt.Sprintf("Sorry, %s at %s is already taken.", humanDate(slot.Date, e.rules.location()), slot.Time),
	}
	taken := func(s Slot) bool {
		return s.Date == slot.Date && counts[s.Time] >= e.rules.SlotCapacity
	}
	if next, ok := e.rules.NextValid(slot.Date, slot.Time, now, taken); ok {
		res.Suggestion = &next
		res.Message += fmt.Sprintf(" How about %s at %s?", humanDate(next.Date, e.rules.location()), next.Time)
	}
	return res
}

// findOwned locates a row by appointment id that belongs to patientID.
func (e *Engine) findOwned(ctx context.Context, patientID, appointmentID string) (records.Row, bool, error) {
	rows, err := e.appointments.LookupRowsByColumn(ctx, records.ColAppointmentID, normalize.Name(appointmentID))
	if err != nil {
		return records.Row{}, false, err
	}
	var match *records.Row
	for i := range rows {
		if !samePatient(rows[i], patientID) {
			continue
		}
		if match == nil || domain.ParseAppointmentStatus(rows[i].Get(records.ColAppointmentStatus)).Live() {
			match = &rows[i]
		}
	}
	if match == nil {
		return records.Row{}, false, nil
	}
	return *match, true, nil
}

func (e *Engine) notify(ctx context.Context, notice domain.AppointmentNotice) {
	if e.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	if err := e.notifier.NotifyAppointment(nctx, notice); err != nil {
		e.logger.Warn("scheduling: notification failed",
			"event", notice.Event, "patient_id", notice.PatientID,
			"appointment_id", notice.Appointment.ID, "error", err)
	}
}

func (e *Engine) storeError(op string, err error) Result {
	wrapped := fmt.Errorf("scheduling: %s: %w", op, err)
	e.logger.Error("scheduling store error", "error", wrapped)
	return Result{
		Status:  StatusError,
		Err:     wrapped,
		Message: "Something went wrong while reaching our appointment records. Please try again in a moment.",
	}
}

func (e *Engine) finish(span trace.Span, op string, sess *session.Context, res Result) {
	span.SetAttributes(attribute.String("frontdesk.scheduling.status", string(res.Status)))
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	e.metrics.ObserveOutcome(op, string(res.Status))
	if res.Status != StatusNotVerified && sess != nil {
		attrs := []any{"op", op, "status", res.Status, "conversation_id", sess.ConversationID, "patient_id", sess.PatientID}
		if res.Appointment != nil {
			attrs = append(attrs, "appointment_id", res.Appointment.ID)
		}
		e.logger.Info("scheduling operation", attrs...)
	}
}

func (e *Engine) violationMessage(v Violation, slot Slot) string {
	when := humanDate(slot.Date, e.rules.location())
	switch v {
	case ViolationPastDate:
		return fmt.Sprintf("%s is in the past.", when)
	case ViolationOffDay:
		return fmt.Sprintf("We're closed on %s. We're open %s.", when, e.rules.Hours())
	case ViolationOffTiming:
		return fmt.Sprintf("%s is outside our hours (%s).", slot.Time, e.rules.Hours())
	case ViolationInsufficientNotice:
		return fmt.Sprintf("Appointments need at least %s of notice.", humanDuration(e.rules.MinNotice))
	case ViolationBeyondHorizon:
		return fmt.Sprintf("We only book up to %d month(s) ahead.", e.rules.HorizonMonths)
	}
	return "That slot isn't available."
}

func notVerified() Result {
	return Result{
		Status:  StatusNotVerified,
		Message: "I need to verify your identity first. Please tell me your full name and date of birth.",
	}
}

func notFound(id string) Result {
	return Result{
		Status:  StatusNotFound,
		Message: fmt.Sprintf("I couldn't find appointment %s on your record. Would you like me to list your appointments?", id),
	}
}

func alreadyCancelled(id string) Result {
	return Result{
		Status:  StatusAlreadyCancelled,
		Message: fmt.Sprintf("Appointment %s is already cancelled. Would you like to book a new one?", id),
	}
}

func missingAppointmentID() Result {
	return Result{
		Status:  StatusNotFound,
		Message: "Which appointment do you mean? I can list your appointments so you can pick one.",
	}
}

func unclearMessage(warnings []domain.Warning) string {
	if len(warnings) == 2 {
		return "I couldn't understand the date or the time. Could you give them like \"tomorrow at 2 PM\" or \"2026-10-20 10:30\"?"
	}
	if warnings[0].Field == "date" {
		return fmt.Sprintf("I couldn't understand the date %q. Could you give it like \"next Monday\" or \"20 Oct 2026\"?", warnings[0].Raw)
	}
	return fmt.Sprintf("I couldn't understand the time %q. Could you give it like \"2 PM\" or \"14:00\"?", warnings[0].Raw)
}

func patientLockKey(patientID string) string { return "patient:" + patientID }

func slotLockKey(s Slot) string { return "slot:" + s.String() }

func humanDate(date string, loc *time.Location) string {
	d, err := normalize.ParseDate(date, loc)
	if err != nil {
		return date
	}
	return d.Format("Monday, 2 January 2006")
}

func humanDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}
