package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Start     string `json:"start"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  string    `json:"doctor_id"`
	PatientID string    `json:"patient_id"`
	Start     string    `json:"start"`
	CreatedAt time.Time `json:"created_at"`
}

// AdmissionResponse is the body of every POST /appointments answer.
type AdmissionResponse struct {
	Status      string               `json:"status"`
	Appointment *AppointmentResponse `json:"appointment,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Details     string               `json:"details,omitempty"`
}

// BookedTime is one entry of a doctor's schedule for a date.
type BookedTime struct {
	TimeOfDay string `json:"time_of_day"`
}

// ScheduleResponse maps date keys to booked times. encoding/json writes map
// keys sorted, so dates come out ascending.
type ScheduleResponse map[string][]BookedTime

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
