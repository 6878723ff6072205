// Package ids generates patient and appointment identifiers.
package ids

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	patientPrefix     = "PAT-"
	appointmentPrefix = "APP-"
	stampLayout       = "20060102150405"
)

// Generator produces identifiers. The zero value is ready to use.
type Generator struct {
	// Entropy returns random hex; defaults to uuid v4 bits.
	Entropy func() string
}

func (g Generator) entropy() string {
	if g.Entropy != nil {
		return g.Entropy()
	}
	return RandomHex()
}

// Patient returns a candidate patient id such as PAT-3F9A12BC. Callers still
// check it against the store; randomness only makes collisions unlikely.
func (g Generator) Patient() string {
	return patientPrefix + g.entropy()
}

// Appointment returns an id such as APP-20261015140000-3F9A12BC.
func (g Generator) Appointment(now time.Time) string {
	return appointmentPrefix + now.UTC().Format(stampLayout) + "-" + g.entropy()
}

// RandomHex returns 8 uppercase hex characters drawn from a v4 uuid.
func RandomHex() string {
	u := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")[:8])
}
