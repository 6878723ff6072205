// Package dispatch routes a classified turn to the right service and enforces
// the verification gate. The classifier only proposes; this package decides.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
	"github.com/wolfman30/clinic-frontdesk/internal/scheduling"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/internal/symptoms"
	"github.com/wolfman30/clinic-frontdesk/internal/verification"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Intent is the classifier's reading of a turn.
type Intent string

const (
	IntentGeneral      Intent = "general"
	IntentVerification Intent = "verification"
	IntentAppointment  Intent = "appointment"
	IntentSymptom      Intent = "symptom"
	IntentEmergency    Intent = "emergency"
)

// ParseIntent maps free text onto an Intent, defaulting to general.
func ParseIntent(raw string) Intent {
	switch Intent(raw) {
	case IntentVerification, IntentAppointment, IntentSymptom, IntentEmergency:
		return Intent(raw)
	}
	return IntentGeneral
}

// ToolCall is a structured action the classifier proposes.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Classification is the output of one language inference step.
type Classification struct {
	Intent Intent    `json:"intent"`
	Tool   *ToolCall `json:"tool,omitempty"`
	Reply  string    `json:"reply,omitempty"`
}

// Message is one entry of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Classifier is the language inference boundary. Identical inputs may yield
// different outputs.
type Classifier interface {
	Classify(ctx context.Context, history []Message, sess *session.Context) (Classification, error)
}

type Verifier interface {
	Verify(ctx context.Context, sess *session.Context, req verification.Request) verification.Result
}

type Scheduler interface {
	Book(ctx context.Context, sess *session.Context, req scheduling.BookRequest) scheduling.Result
	List(ctx context.Context, sess *session.Context) scheduling.Result
	Reschedule(ctx context.Context, sess *session.Context, req scheduling.RescheduleRequest) scheduling.Result
	Cancel(ctx context.Context, sess *session.Context, req scheduling.CancelRequest) scheduling.Result
}

type SymptomLogger interface {
	Log(ctx context.Context, sess *session.Context, req symptoms.Request) symptoms.Result
}

// EmergencyMessage is the reply to any emergency classification.
const EmergencyMessage = "This sounds serious. Please go to the nearest emergency room or call 911."

// Outcome is what one dispatched turn did.
type Outcome struct {
	Reply   string          `json:"reply"`
	Handler session.Handler `json:"handler"`
	// Transferred is set when the turn moved the conversation to another handler.
	Transferred bool        `json:"transferred"`
	Action      string      `json:"action,omitempty"`
	Status      string      `json:"status,omitempty"`
	Kind        domain.Kind `json:"kind,omitempty"`

	Verification *verification.Result `json:"-"`
	Scheduling   *scheduling.Result   `json:"-"`
	Symptom      *symptoms.Result     `json:"-"`
}

// Dispatcher is the router state machine.
type Dispatcher struct {
	verifier  Verifier
	scheduler Scheduler
	symptoms  SymptomLogger
	validate  *validator.Validate
	logger    *logging.Logger
}

func New(verifier Verifier, scheduler Scheduler, symptomLog SymptomLogger, logger *logging.Logger) *Dispatcher {
	if verifier == nil || scheduler == nil || symptomLog == nil {
		panic("dispatch: verifier, scheduler and symptom logger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		verifier:  verifier,
		scheduler: scheduler,
		symptoms:  symptomLog,
		validate:  newValidator(),
		logger:    logger,
	}
}

// Dispatch applies one classification to sess and returns the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Context, c Classification) Outcome {
	before := sess.ActiveHandler
	out := d.dispatch(ctx, sess, c)
	out.Handler = sess.ActiveHandler
	out.Transferred = out.Handler != before
	if out.Transferred {
		d.logger.Info("handler transfer", "conversation_id", sess.ConversationID, "from", before, "to", out.Handler)
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, sess *session.Context, c Classification) Outcome {
	intent := ParseIntent(string(c.Intent))
	if intent == IntentEmergency {
		return d.emergency(ctx, sess, c)
	}

	target := d.target(sess, intent, c.Tool)
	if (target == session.HandlerAppointment || target == session.HandlerSymptom) && !sess.IsVerified() {
		sess.PendingHandler = target
		sess.Transition(session.HandlerVerification)
		return Outcome{
			Reply:  fmt.Sprintf("Before I can help with %s, I need to verify your identity. Please tell me your full name and date of birth.", topic(target)),
			Status: "not_verified",
			Kind:   domain.KindNotVerified,
		}
	}

	switch target {
	case session.HandlerVerification:
		return d.verification(ctx, sess, c)
	case session.HandlerAppointment:
		sess.Transition(session.HandlerAppointment)
		if c.Tool == nil {
			return replyOr(c.Reply, "I can book, list, reschedule or cancel appointments. What would you like to do?")
		}
		return d.appointment(ctx, sess, c.Tool)
	case session.HandlerSymptom:
		sess.Transition(session.HandlerSymptom)
		if c.Tool == nil {
			return replyOr(c.Reply, "Tell me what symptoms you're experiencing and how severe they are on a scale of 1 to 10.")
		}
		return d.symptom(ctx, sess, c.Tool)
	default:
		sess.Transition(session.HandlerRouter)
		return replyOr(c.Reply, "I can help you verify your identity, manage appointments or record symptoms. What do you need today?")
	}
}

// target picks the next handler. A recognised tool wins over the intent; a
// general turn stays with the active handler.
func (d *Dispatcher) target(sess *session.Context, intent Intent, tool *ToolCall) session.Handler {
	if tool != nil {
		if h, ok := toolHandlers[tool.Name]; ok {
			return h
		}
	}
	switch intent {
	case IntentVerification:
		return session.HandlerVerification
	case IntentAppointment:
		return session.HandlerAppointment
	case IntentSymptom:
		return session.HandlerSymptom
	}
	if sess.ActiveHandler.Valid() {
		return sess.ActiveHandler
	}
	return session.HandlerRouter
}

func (d *Dispatcher) emergency(ctx context.Context, sess *session.Context, c Classification) Outcome {
	d.logger.Warn("emergency reported", "conversation_id", sess.ConversationID, "patient_id", sess.PatientID)
	out := Outcome{Reply: EmergencyMessage, Status: "emergency"}
	if c.Tool != nil && c.Tool.Name == ToolLogSymptom && sess.IsVerified() {
		logged := d.symptom(ctx, sess, c.Tool)
		out.Action = logged.Action
		out.Symptom = logged.Symptom
	}
	return out
}

func (d *Dispatcher) verification(ctx context.Context, sess *session.Context, c Classification) Outcome {
	if sess.IsVerified() && (c.Tool == nil || c.Tool.Name != ToolVerifyPatient) {
		return d.resume(sess, Outcome{Reply: fmt.Sprintf("You're already verified as %s.", sess.PatientName), Status: string(verification.StatusVerified)})
	}
	sess.Transition(session.HandlerVerification)
	if c.Tool == nil || c.Tool.Name != ToolVerifyPatient {
		return replyOr(c.Reply, "To get started, please tell me your full name and date of birth.")
	}

	var args verifyArgs
	if err := decodeArgs(d.validate, c.Tool.Args, &args); err != nil {
		return d.badArgs("verify your identity", ToolVerifyPatient, err)
	}
	res := d.verifier.Verify(ctx, sess, verification.Request{Name: args.Name, DOB: args.DateOfBirth, Email: args.Email})
	out := Outcome{
		Reply:        res.Message,
		Action:       ToolVerifyPatient,
		Status:       string(res.Status),
		Kind:         res.Kind,
		Verification: &res,
	}
	if !res.OK() {
		return out
	}
	return d.resume(sess, out)
}

// resume hands a freshly verified conversation back to the handler that asked
// for verification, or to the router.
func (d *Dispatcher) resume(sess *session.Context, out Outcome) Outcome {
	pending := sess.PendingHandler
	sess.PendingHandler = ""
	switch pending {
	case session.HandlerAppointment:
		sess.Transition(session.HandlerAppointment)
		out.Reply += " Now, what would you like to do with your appointments?"
	case session.HandlerSymptom:
		sess.Transition(session.HandlerSymptom)
		out.Reply += " Now, please tell me about your symptoms."
	default:
		sess.Transition(session.HandlerRouter)
		out.Reply += " How can I help you today?"
	}
	return out
}

func (d *Dispatcher) appointment(ctx context.Context, sess *session.Context, tool *ToolCall) Outcome {
	var res scheduling.Result
	switch tool.Name {
	case ToolBookAppointment:
		var args bookArgs
		if err := decodeArgs(d.validate, tool.Args, &args); err != nil {
			return d.badArgs("book an appointment", tool.Name, err)
		}
		res = d.scheduler.Book(ctx, sess, scheduling.BookRequest{Date: args.Date, Time: args.Time, Reason: args.Reason})
	case ToolListAppointments:
		res = d.scheduler.List(ctx, sess)
		res.Message = listMessage(res)
	case ToolRescheduleAppointment:
		var args rescheduleArgs
		if err := decodeArgs(d.validate, tool.Args, &args); err != nil {
			return d.badArgs("reschedule", tool.Name, err)
		}
		res = d.scheduler.Reschedule(ctx, sess, scheduling.RescheduleRequest{AppointmentID: args.AppointmentID, Date: args.Date, Time: args.Time})
	case ToolCancelAppointment:
		var args cancelArgs
		if err := decodeArgs(d.validate, tool.Args, &args); err != nil {
			return d.badArgs("cancel", tool.Name, err)
		}
		res = d.scheduler.Cancel(ctx, sess, scheduling.CancelRequest{AppointmentID: args.AppointmentID, Reason: args.Reason})
	default:
		return Outcome{Reply: "I can book, list, reschedule or cancel appointments. What would you like to do?"}
	}
	return Outcome{
		Reply:      res.Message,
		Action:     tool.Name,
		Status:     string(res.Status),
		Kind:       res.Kind(),
		Scheduling: &res,
	}
}

func (d *Dispatcher) symptom(ctx context.Context, sess *session.Context, tool *ToolCall) Outcome {
	if tool.Name != ToolLogSymptom {
		return Outcome{Reply: "Tell me what symptoms you're experiencing and how severe they are on a scale of 1 to 10."}
	}
	var args symptomArgs
	if err := decodeArgs(d.validate, tool.Args, &args); err != nil {
		return d.badArgs("record your symptoms", tool.Name, err)
	}
	res := d.symptoms.Log(ctx, sess, symptoms.Request{
		SymptomType: args.SymptomType,
		Description: args.Description,
		Severity:    args.severity(),
	})
	return Outcome{
		Reply:   res.Message,
		Action:  tool.Name,
		Status:  string(res.Status),
		Kind:    res.Kind(),
		Symptom: &res,
	}
}

func (d *Dispatcher) badArgs(action, tool string, err error) Outcome {
	var ae *argsError
	if !errors.As(err, &ae) {
		d.logger.Error("dispatch: tool arguments", "tool", tool, "error", err)
		ae = &argsError{}
	}
	return Outcome{
		Reply:  missingMessage(action, ae),
		Status: "missing_arguments",
		Kind:   domain.KindValidationFailed,
	}
}

func listMessage(res scheduling.Result) string {
	if res.Status != scheduling.StatusSuccess || len(res.Appointments) == 0 {
		return res.Message
	}
	msg := res.Message
	for _, a := range res.Appointments {
		msg += fmt.Sprintf("\n- %s: %s at %s (%s)", a.ID, a.Date, a.Time, a.Reason)
	}
	return msg
}

func replyOr(reply, fallback string) Outcome {
	if reply == "" {
		reply = fallback
	}
	return Outcome{Reply: reply}
}

func topic(h session.Handler) string {
	if h == session.HandlerSymptom {
		return "your symptoms"
	}
	return "appointments"
}
