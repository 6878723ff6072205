package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/records/recordstest"
	"github.com/wolfman30/clinic-frontdesk/internal/scheduling"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/internal/symptoms"
	"github.com/wolfman30/clinic-frontdesk/internal/verification"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Wednesday.
var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	dispatcher   *Dispatcher
	patients     *recordstest.Counting
	appointments *recordstest.Counting
	symptoms     *recordstest.Counting
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tables, patients, appts, symptomTbl := recordstest.CountingTables(records.NewMemoryTables())
	clock := func() time.Time { return testNow }
	logger := logging.Discard()

	verifier := verification.NewService(tables.Patients, verification.WithClock(clock), verification.WithLogger(logger))
	engine := scheduling.NewEngine(tables.Appointments, scheduling.DefaultRules(), scheduling.WithClock(clock), scheduling.WithLogger(logger))
	symptomLog := symptoms.NewService(tables.Patients, tables.Symptoms, logger, nil)

	return &fixture{
		dispatcher:   New(verifier, engine, symptomLog, logger),
		patients:     patients,
		appointments: appts,
		symptoms:     symptomTbl,
	}
}

func bookTool(date, clock string) *ToolCall {
	return &ToolCall{Name: ToolBookAppointment, Args: map[string]any{"date": date, "time": clock}}
}

func verifyTool(name, dob string) *ToolCall {
	return &ToolCall{Name: ToolVerifyPatient, Args: map[string]any{"name": name, "date_of_birth": dob}}
}

func TestUnverifiedBookingRoutesToVerification(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)

	out := f.dispatcher.Dispatch(context.Background(), sess, Classification{
		Intent: IntentAppointment,
		Tool:   bookTool("tomorrow", "2 PM"),
		Reply:  "Done! You're booked for tomorrow at 2 PM.",
	})
	assert.Equal(t, "not_verified", out.Status)
	assert.Equal(t, domain.KindNotVerified, out.Kind)
	assert.NotContains(t, out.Reply, "booked")
	assert.Equal(t, session.HandlerVerification, out.Handler)
	assert.True(t, out.Transferred)
	assert.Equal(t, session.HandlerAppointment, sess.PendingHandler)
	assert.Equal(t, int64(0), f.appointments.Calls())
	assert.Equal(t, int64(0), f.patients.Calls())
}

func TestVerificationResumesPendingHandlerThenBooks(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)
	ctx := context.Background()

	f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentAppointment, Tool: bookTool("tomorrow", "2 PM")})

	out := f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentVerification, Tool: verifyTool("Jane Doe", "16 Sep 2002")})
	require.Equal(t, string(verification.StatusCreated), out.Status, out.Reply)
	assert.Equal(t, ToolVerifyPatient, out.Action)
	assert.Equal(t, session.HandlerAppointment, out.Handler)
	assert.Empty(t, sess.PendingHandler)
	assert.True(t, sess.IsVerified())
	assert.Contains(t, out.Reply, "appointments")

	book := bookTool("tomorrow", "2 PM")
	book.Args["patient_id"] = "PAT-SOMEONE-ELSE"
	out = f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentAppointment, Tool: book})
	require.Equal(t, string(scheduling.StatusSuccess), out.Status, out.Reply)
	require.NotNil(t, out.Scheduling)
	assert.Equal(t, "14:00", out.Scheduling.Appointment.Time)
	assert.Equal(t, "2026-10-15", out.Scheduling.Appointment.Date)
	assert.Equal(t, sess.PatientID, out.Scheduling.Appointment.PatientID)
	assert.False(t, out.Transferred)
}

func TestVerificationFailureStaysInVerification(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)
	ctx := context.Background()

	out := f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentVerification, Tool: verifyTool("Jane Doe", "16 Sep 2002")})
	require.Equal(t, string(verification.StatusCreated), out.Status)

	other := session.New("conv-2", testNow)
	other.PendingHandler = session.HandlerSymptom
	out = f.dispatcher.Dispatch(ctx, other, Classification{Intent: IntentVerification, Tool: verifyTool("jane doe", "1 Jan 1990")})
	assert.Equal(t, string(verification.StatusNotVerified), out.Status)
	assert.Equal(t, session.HandlerVerification, out.Handler)
	assert.Equal(t, session.HandlerSymptom, other.PendingHandler)
	assert.False(t, other.IsVerified())
}

func TestEmergencyBypassesGate(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)

	out := f.dispatcher.Dispatch(context.Background(), sess, Classification{
		Intent: IntentEmergency,
		Tool:   &ToolCall{Name: ToolLogSymptom, Args: map[string]any{"description": "chest pain", "severity": 10}},
	})
	assert.Equal(t, EmergencyMessage, out.Reply)
	assert.Equal(t, "emergency", out.Status)
	assert.Equal(t, session.HandlerRouter, out.Handler)
	assert.Nil(t, out.Symptom)
	assert.Equal(t, int64(0), f.symptoms.Calls())
}

func TestEmergencyStillLogsForVerifiedPatient(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)
	ctx := context.Background()
	f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentVerification, Tool: verifyTool("Jane Doe", "2002-09-16")})

	out := f.dispatcher.Dispatch(ctx, sess, Classification{
		Intent: IntentEmergency,
		Tool:   &ToolCall{Name: ToolLogSymptom, Args: map[string]any{"symptom_type": "Chest pain", "severity": "10"}},
	})
	assert.Equal(t, EmergencyMessage, out.Reply)
	require.NotNil(t, out.Symptom)
	assert.Equal(t, symptoms.StatusSuccess, out.Symptom.Status)
}

func TestMissingArgumentsAskForDetails(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)

	out := f.dispatcher.Dispatch(context.Background(), sess, Classification{
		Intent: IntentVerification,
		Tool:   &ToolCall{Name: ToolVerifyPatient, Args: map[string]any{"name": "Jane Doe"}},
	})
	assert.Equal(t, "missing_arguments", out.Status)
	assert.Equal(t, "To verify your identity, I still need your date of birth.", out.Reply)
	assert.Equal(t, int64(0), f.patients.Calls())

	sess.MarkVerified("PAT-1", "Jane Doe")
	out = f.dispatcher.Dispatch(context.Background(), sess, Classification{
		Intent: IntentAppointment,
		Tool:   &ToolCall{Name: ToolRescheduleAppointment, Args: map[string]any{"appointment_id": "APP-1"}},
	})
	assert.Equal(t, "missing_arguments", out.Status)
	assert.Equal(t, "To reschedule, I still need your preferred date and preferred time.", out.Reply)
	assert.Equal(t, int64(0), f.appointments.Calls())
}

func TestSymptomFlowWithStringSeverity(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)
	ctx := context.Background()
	f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentVerification, Tool: verifyTool("Jane Doe", "2002-09-16")})

	out := f.dispatcher.Dispatch(ctx, sess, Classification{
		Intent: IntentSymptom,
		Tool:   &ToolCall{Name: ToolLogSymptom, Args: map[string]any{"symptom_type": "Headache", "description": "dull", "severity": "7"}},
	})
	require.Equal(t, string(symptoms.StatusSuccess), out.Status, out.Reply)
	assert.Equal(t, session.HandlerSymptom, out.Handler)
	require.NotNil(t, out.Symptom.Entry.Severity)
	assert.Equal(t, 7, *out.Symptom.Entry.Severity)
}

func TestGeneralTurnKeepsActiveHandler(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)
	sess.Transition(session.HandlerVerification)

	out := f.dispatcher.Dispatch(context.Background(), sess, Classification{Intent: IntentGeneral, Reply: "Could you spell your last name?"})
	assert.Equal(t, "Could you spell your last name?", out.Reply)
	assert.Equal(t, session.HandlerVerification, out.Handler)
	assert.False(t, out.Transferred)

	out = f.dispatcher.Dispatch(context.Background(), session.New("conv-2", testNow), Classification{Intent: "chit-chat"})
	assert.Equal(t, session.HandlerRouter, out.Handler)
	assert.NotEmpty(t, out.Reply)
}

func TestListAppointmentsReply(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)
	ctx := context.Background()
	f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentVerification, Tool: verifyTool("Jane Doe", "2002-09-16")})
	booked := f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentAppointment, Tool: bookTool("2026-10-20", "10:00")})
	require.Equal(t, string(scheduling.StatusSuccess), booked.Status)

	out := f.dispatcher.Dispatch(ctx, sess, Classification{Intent: IntentAppointment, Tool: &ToolCall{Name: ToolListAppointments}})
	assert.Equal(t, string(scheduling.StatusSuccess), out.Status)
	assert.Contains(t, out.Reply, booked.Scheduling.Appointment.ID)
	assert.Contains(t, out.Reply, "2026-10-20 at 10:00")
}

func TestAlreadyVerifiedDoesNotReverify(t *testing.T) {
	f := newFixture(t)
	sess := session.New("conv-1", testNow)
	sess.MarkVerified("PAT-1", "Jane Doe")

	out := f.dispatcher.Dispatch(context.Background(), sess, Classification{Intent: IntentVerification})
	assert.Contains(t, out.Reply, "already verified")
	assert.Equal(t, session.HandlerRouter, out.Handler)
	assert.Equal(t, int64(0), f.patients.Calls())
}

func TestParseIntent(t *testing.T) {
	assert.Equal(t, IntentSymptom, ParseIntent("symptom"))
	assert.Equal(t, IntentGeneral, ParseIntent("APPOINTMENT?"))
	assert.Equal(t, IntentGeneral, ParseIntent(""))
}
