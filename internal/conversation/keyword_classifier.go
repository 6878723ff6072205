package conversation

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/dispatch"
	"github.com/wolfman30/clinic-frontdesk/internal/normalize"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
)

// KeywordClassifier routes on keywords and pulls tool arguments out of the
// message with patterns. It keeps the front desk usable when no language
// model is configured: a name plus date of birth verifies, a date plus time
// books, and a verified patient's symptom description is logged.
type KeywordClassifier struct{}

var keywordIntents = []struct {
	intent dispatch.Intent
	words  []string
	reply  string
}{
	{dispatch.IntentEmergency, []string{"can't breathe", "cannot breathe", "chest pain", "unconscious", "won't stop bleeding", "heavy bleeding"}, ""},
	{dispatch.IntentAppointment, []string{"appointment", "book", "schedule", "reschedule", "cancel"}, "I can help with appointments. Which date and time would you like?"},
	{dispatch.IntentSymptom, []string{"pain", "ache", "hurt", "swollen", "sensitive", "bleeding", "symptom"}, "I'm sorry to hear that. Can you describe the symptom and rate it from 1 to 10?"},
	{dispatch.IntentVerification, []string{"my name", "date of birth", "dob", "verify"}, "Please tell me your full name and date of birth."},
}

var (
	namePattern = regexp.MustCompile(`(?i)\b(?:my name is|name is|name's|i am|i'm|this is)\s+([a-z][a-z'\-]*(?:\s+[a-z][a-z'\-]*){0,3})`)

	// Dates with a year that normalize.Date understands.
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}[/.]\d{1,2}[/.]\d{4}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?[ -][a-z]{3,9}[ -]\d{4}\b`),
		regexp.MustCompile(`(?i)\b[a-z]{3,9} \d{1,2}(?:st|nd|rd|th)?,? \d{4}\b`),
	}
	yearlessDatePattern = regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)? (?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b`)
	relativeDatePattern = regexp.MustCompile(`(?i)\b(?:(?:the )?day after tomorrow|today|tomorrow|(?:this |next |coming )?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`)
	timePattern         = regexp.MustCompile(`(?i)\b(?:\d{1,2}(?::\d{2})?\s*(?:a\.?m\.?|p\.?m\.?)|\d{1,2}:\d{2}|noon|midday)`)
	appointmentIDToken  = regexp.MustCompile(`(?i)\bAPP-[0-9A-Z-]+\b`)
	severityPattern     = regexp.MustCompile(`(?i)\b(10|[0-9])\s*(?:/|out of)\s*10\b`)
)

// Words that end a captured name.
var nameStops = map[string]bool{
	"and": true, "born": true, "dob": true, "date": true, "my": true, "on": true,
	"birthday": true, "d": true, "i": true, "calling": true, "having": true,
	"feeling": true, "looking": true, "trying": true, "here": true, "in": true,
	"a": true, "not": true, "with": true,
}

func (KeywordClassifier) Classify(_ context.Context, history []dispatch.Message, sess *session.Context) (dispatch.Classification, error) {
	var text string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == dispatch.RoleUser {
			text = history[i].Content
			break
		}
	}
	last := strings.ToLower(text)

	intent, reply := dispatch.IntentGeneral, "Hello! I can verify your identity, manage appointments or record symptoms. How can I help?"
	for _, k := range keywordIntents {
		if containsAny(last, k.words) {
			intent, reply = k.intent, k.reply
			break
		}
	}
	if intent == dispatch.IntentEmergency {
		return dispatch.Classification{Intent: intent}, nil
	}

	if !sess.IsVerified() {
		name, dob := extractName(text), extractDate(text)
		if name != "" && dob != "" {
			return dispatch.Classification{
				Intent: dispatch.IntentVerification,
				Tool: &dispatch.ToolCall{Name: dispatch.ToolVerifyPatient, Args: map[string]any{
					"name":          name,
					"date_of_birth": dob,
				}},
			}, nil
		}
	}

	switch intent {
	case dispatch.IntentAppointment:
		if tool := appointmentTool(text, last); tool != nil {
			return dispatch.Classification{Intent: intent, Tool: tool}, nil
		}
	case dispatch.IntentSymptom:
		if sess.IsVerified() {
			args := map[string]any{"description": strings.TrimSpace(text)}
			if m := severityPattern.FindStringSubmatch(text); m != nil {
				n, _ := strconv.Atoi(m[1])
				args["severity"] = n
			}
			return dispatch.Classification{Intent: intent, Tool: &dispatch.ToolCall{Name: dispatch.ToolLogSymptom, Args: args}}, nil
		}
	}
	return dispatch.Classification{Intent: intent, Reply: reply}, nil
}

func appointmentTool(text, last string) *dispatch.ToolCall {
	id := appointmentIDToken.FindString(text)
	date, clock := extractDate(text), timePattern.FindString(text)
	if date == "" {
		date = yearlessDatePattern.FindString(text)
	}
	if date == "" {
		date = relativeDatePattern.FindString(text)
	}
	switch {
	case strings.Contains(last, "cancel"):
		if id == "" {
			return nil
		}
		return &dispatch.ToolCall{Name: dispatch.ToolCancelAppointment, Args: map[string]any{"appointment_id": id}}
	case strings.Contains(last, "reschedule"), strings.Contains(last, "move"):
		if id == "" || date == "" || clock == "" {
			return nil
		}
		return &dispatch.ToolCall{Name: dispatch.ToolRescheduleAppointment, Args: map[string]any{
			"appointment_id": id, "date": date, "time": clock,
		}}
	case containsAny(last, []string{"my appointments", "list", "what appointments", "upcoming"}):
		return &dispatch.ToolCall{Name: dispatch.ToolListAppointments}
	}
	if date == "" || clock == "" {
		return nil
	}
	return &dispatch.ToolCall{Name: dispatch.ToolBookAppointment, Args: map[string]any{"date": date, "time": clock}}
}

func extractName(text string) string {
	m := namePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	var words []string
	for _, w := range strings.Fields(m[1]) {
		if nameStops[strings.ToLower(w)] {
			break
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

// extractDate returns the first absolute date in text that normalize.Date
// accepts, as written.
func extractDate(text string) string {
	for _, p := range datePatterns {
		for _, m := range p.FindAllString(text, -1) {
			if !normalize.Date(m, time.Now()).Defaulted {
				return m
			}
		}
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
