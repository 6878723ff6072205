package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/clinic-frontdesk/internal/session"
)

// Tool names the language inference step may propose.
const (
	ToolVerifyPatient         = "verify_patient"
	ToolBookAppointment       = "book_appointment"
	ToolListAppointments      = "list_appointments"
	ToolRescheduleAppointment = "reschedule_appointment"
	ToolCancelAppointment     = "cancel_appointment"
	ToolLogSymptom            = "log_symptom"
)

var toolHandlers = map[string]session.Handler{
	ToolVerifyPatient:         session.HandlerVerification,
	ToolBookAppointment:       session.HandlerAppointment,
	ToolListAppointments:      session.HandlerAppointment,
	ToolRescheduleAppointment: session.HandlerAppointment,
	ToolCancelAppointment:     session.HandlerAppointment,
	ToolLogSymptom:            session.HandlerSymptom,
}

// ToolNames lists every tool, for prompts.
func ToolNames() []string {
	return []string{
		ToolVerifyPatient, ToolBookAppointment, ToolListAppointments,
		ToolRescheduleAppointment, ToolCancelAppointment, ToolLogSymptom,
	}
}

// Patient ids are never read from tool arguments; the session's id is used.

type verifyArgs struct {
	Name        string `json:"name" validate:"required"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	Email       string `json:"email" validate:"omitempty,email"`
}

type bookArgs struct {
	Date   string `json:"date" validate:"required"`
	Time   string `json:"time" validate:"required"`
	Reason string `json:"reason"`
}

type rescheduleArgs struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Date          string `json:"date" validate:"required"`
	Time          string `json:"time" validate:"required"`
}

type cancelArgs struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Reason        string `json:"reason"`
}

type symptomArgs struct {
	SymptomType string   `json:"symptom_type"`
	Description string   `json:"description" validate:"required_without=SymptomType"`
	Severity    *flexInt `json:"severity" validate:"omitempty,min=0,max=10"`
}

// flexInt accepts 6, 6.0, "6" and "" from model output.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	*f = flexInt(int(v))
	return nil
}

func (a symptomArgs) severity() *int {
	if a.Severity == nil || *a.Severity == 0 {
		return nil
	}
	v := int(*a.Severity)
	return &v
}

// argsError is a tool call whose arguments are missing or invalid.
type argsError struct {
	fields []string
}

func (e *argsError) Error() string {
	return "dispatch: invalid tool arguments: " + strings.Join(e.fields, ", ")
}

var fieldLabels = map[string]string{
	"name":           "full name",
	"date_of_birth":  "date of birth",
	"email":          "email address",
	"date":           "preferred date",
	"time":           "preferred time",
	"appointment_id": "appointment ID",
	"description":    "a description of the symptom",
	"severity":       "severity from 1 to 10",
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeArgs converts loosely typed model arguments into dst and validates them.
func decodeArgs(v *validator.Validate, raw map[string]any, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("dispatch: encode args: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(dst); err != nil {
		return &argsError{fields: []string{"arguments"}}
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return &argsError{fields: fields}
		}
		return fmt.Errorf("dispatch: validate args: %w", err)
	}
	return nil
}

func missingMessage(action string, err *argsError) string {
	labels := make([]string, 0, len(err.fields))
	for _, f := range err.fields {
		if l, ok := fieldLabels[f]; ok {
			labels = append(labels, l)
		} else {
			labels = append(labels, strings.ReplaceAll(f, "_", " "))
		}
	}
	return fmt.Sprintf("To %s, I still need your %s.", action, joinWords(labels))
}

func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return "details"
	case 1:
		return words[0]
	default:
		return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
	}
}
