// Package session holds the per-conversation state carried across turns.
package session

import (
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
)

// Handler is the dispatcher state a conversation is in.
type Handler string

const (
	HandlerRouter       Handler = "router"
	HandlerVerification Handler = "verification"
	HandlerAppointment  Handler = "appointment"
	HandlerSymptom      Handler = "symptom"
)

// Valid reports whether h is a known handler.
func (h Handler) Valid() bool {
	switch h {
	case HandlerRouter, HandlerVerification, HandlerAppointment, HandlerSymptom:
		return true
	}
	return false
}

// Context is owned by exactly one conversation and is never shared.
// Appointments and Symptoms are a cache of the Record Store, not the truth.
type Context struct {
	ConversationID string               `json:"conversation_id"`
	Verified       bool                 `json:"verified"`
	PatientID      string               `json:"patient_id,omitempty"`
	PatientName    string               `json:"patient_name,omitempty"`
	Appointments   []domain.Appointment `json:"appointments,omitempty"`
	Symptoms       []string             `json:"symptoms,omitempty"`
	ActiveHandler  Handler              `json:"active_handler"`
	// PendingHandler is the handler to resume once verification succeeds.
	PendingHandler Handler   `json:"pending_handler,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// New returns an empty, unverified context routed to the router.
func New(conversationID string, now time.Time) *Context {
	return &Context{
		ConversationID: conversationID,
		ActiveHandler:  HandlerRouter,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsVerified is the verification gate.
func (c *Context) IsVerified() bool {
	return c != nil && c.Verified && c.PatientID != ""
}

// MarkVerified binds the conversation to a patient identity.
func (c *Context) MarkVerified(patientID, name string) {
	if patientID == "" {
		return
	}
	c.Verified = true
	c.PatientID = patientID
	c.PatientName = name
}

// Transition moves the conversation to handler h.
func (c *Context) Transition(h Handler) {
	if !h.Valid() {
		h = HandlerRouter
	}
	c.ActiveHandler = h
}

// ReplaceAppointments rebuilds the cache from store truth.
func (c *Context) ReplaceAppointments(list []domain.Appointment) {
	c.Appointments = append([]domain.Appointment(nil), list...)
}

// UpsertAppointment adds a or replaces the cached entry with the same id.
func (c *Context) UpsertAppointment(a domain.Appointment) {
	for i := range c.Appointments {
		if c.Appointments[i].ID == a.ID {
			c.Appointments[i] = a
			return
		}
	}
	c.Appointments = append(c.Appointments, a)
}

// RemoveAppointment drops id from the cache.
func (c *Context) RemoveAppointment(id string) {
	out := c.Appointments[:0]
	for _, a := range c.Appointments {
		if a.ID != id {
			out = append(out, a)
		}
	}
	c.Appointments = out
}

// CachedAppointment returns the cached entry for id.
func (c *Context) CachedAppointment(id string) (domain.Appointment, bool) {
	for _, a := range c.Appointments {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Appointment{}, false
}

func (c *Context) AddSymptom(summary string) {
	c.Symptoms = append(c.Symptoms, summary)
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Appointments = append([]domain.Appointment(nil), c.Appointments...)
	out.Symptoms = append([]string(nil), c.Symptoms...)
	return &out
}
