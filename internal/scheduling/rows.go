package scheduling

import (
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
	"github.com/wolfman30/clinic-frontdesk/internal/normalize"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
)

func toAppointment(row records.Row, now time.Time) domain.Appointment {
	created, _ := time.Parse(time.RFC3339, row.Get(records.ColTimestamp))
	date := row.Get(records.ColAppointmentDate)
	if d := normalize.Date(date, now); !d.Defaulted {
		date = d.Value
	}
	clock := row.Get(records.ColAppointmentTime)
	if t := normalize.Time(clock); !t.Defaulted {
		clock = t.Value
	}
	return domain.Appointment{
		ID:        row.Get(records.ColAppointmentID),
		PatientID: row.Get(records.ColPatientID),
		Date:      date,
		Time:      clock,
		Status:    domain.ParseAppointmentStatus(row.Get(records.ColAppointmentStatus)),
		Reason:    row.Get(records.ColReason),
		CreatedAt: created,
	}
}

func appointmentCells(a domain.Appointment) map[string]string {
	return map[string]string{
		records.ColAppointmentID:     a.ID,
		records.ColPatientID:         a.PatientID,
		records.ColAppointmentDate:   a.Date,
		records.ColAppointmentTime:   a.Time,
		records.ColAppointmentStatus: string(a.Status),
		records.ColReason:            a.Reason,
		records.ColTimestamp:         a.CreatedAt.Format(time.RFC3339),
	}
}

func sortAppointments(list []domain.Appointment) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].Time < list[j].Time
	})
}

func samePatient(row records.Row, patientID string) bool {
	return strings.EqualFold(strings.TrimSpace(row.Get(records.ColPatientID)), patientID)
}
