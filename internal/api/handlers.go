package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/appointment"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

func createAppointmentHandler(svc AppointmentService, retryAfter time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeRejection(w, appointment.ReasonValidation, "could not parse JSON", retryAfter)
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.CreateRequest{
			DoctorID:       req.DoctorID,
			PatientID:      req.PatientID,
			Start:          req.Start,
			IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
		})
		if err != nil {
			handleCreateError(w, r, err, retryAfter)
			return
		}

		writeJSON(w, http.StatusCreated, AdmissionResponse{
			Status:      string(appointment.StageCommitted),
			Appointment: toAppointmentResponse(appt),
		})
	}
}

func doctorAppointmentsHandler(svc AppointmentService, retryAfter time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := svc.DoctorAppointments(r.Context(), chi.URLParam(r, "doctorID"))
		if err != nil {
			reason := appointment.ReasonOf(err)
			if reason == appointment.ReasonValidation {
				writeError(w, http.StatusBadRequest, string(reason), err.Error())
				return
			}
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to list doctor appointments")
			setRetryAfter(w, retryAfter)
			writeError(w, http.StatusServiceUnavailable, string(reason), "appointments are temporarily unavailable")
			return
		}

		resp := make(ScheduleResponse, len(days))
		for _, day := range days {
			times := make([]BookedTime, 0, len(day.Times))
			for _, t := range day.Times {
				times = append(times, BookedTime{TimeOfDay: t.Short()})
			}
			resp[day.Date] = times
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleCreateError(w http.ResponseWriter, r *http.Request, err error, retryAfter time.Duration) {
	reason := appointment.ReasonOf(err)

	details := err.Error()
	if reason.Retryable() {
		// Infrastructure detail stays in the logs.
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("reason", string(reason)).Msg("admission failed")
		details = "temporarily unavailable, retry later"
	}

	writeRejection(w, reason, details, retryAfter)
}

func writeRejection(w http.ResponseWriter, reason appointment.Reason, details string, retryAfter time.Duration) {
	status := statusForReason(reason)
	if status == http.StatusServiceUnavailable || reason == appointment.ReasonRequestInFlight {
		setRetryAfter(w, retryAfter)
	}
	writeJSON(w, status, AdmissionResponse{
		Status:  string(appointment.StageRejected),
		Reason:  string(reason),
		Details: details,
	})
}

func statusForReason(reason appointment.Reason) int {
	switch reason {
	case appointment.ReasonValidation:
		return http.StatusBadRequest
	case appointment.ReasonDateUnavailable, appointment.ReasonTimeUnavailable, appointment.ReasonIdempotencyMismatch:
		return http.StatusUnprocessableEntity
	case appointment.ReasonConflict, appointment.ReasonRequestInFlight:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

func toAppointmentResponse(a *appointment.Appointment) *AppointmentResponse {
	return &AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Start:     appointment.FormatInstant(a.Start),
		CreatedAt: a.CreatedAt,
	}
}
