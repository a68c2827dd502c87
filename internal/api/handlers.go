package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/export"
	"arbiter/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type createBookingRequest struct {
	RoomID    int64     `json:"room_id" validate:"required,gt=0"`
	Title     string    `json:"title" validate:"max=255"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

type createBookingResponse struct {
	ID      int64                `json:"id"`
	Status  models.BookingStatus `json:"status"`
	Message string               `json:"message"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	booking, err := s.bookings.CreateBooking(r.Context(), ActorFromContext(r.Context()),
		req.RoomID, strings.TrimSpace(req.Title), req.StartTime.UTC(), req.EndTime.UTC())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createBookingResponse{
		ID:      booking.ID,
		Status:  booking.Status,
		Message: "booking created and awaiting approval",
	})
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r, "from", "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := models.BookingFilter{From: from, To: to}
	if raw := strings.TrimSpace(r.URL.Query().Get("room_id")); raw != "" {
		roomID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || roomID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid room_id")
			return
		}
		filter.RoomID = roomID
	}

	bookings, err := s.bookings.ListBookings(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleApproveBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	booking, err := s.bookings.Approve(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleRejectBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	booking, err := s.bookings.Reject(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// handleExportBookings streams an xlsx report. Without a window it covers
// the next DefaultExportRangeDays days.
func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r, "from", "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if from.IsZero() {
		from = time.Now().UTC().Truncate(24 * time.Hour)
		to = from.AddDate(0, 0, models.DefaultExportRangeDays)
	}

	bookings, err := s.bookings.ListBookings(r.Context(), models.BookingFilter{From: from, To: to})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rooms, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)

	if err := export.BookingsXLSX(w, rooms, bookings, from, to); err != nil {
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("export failed")
	}
}

func (s *HTTPServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	roomID, ok := pathID(w, r)
	if !ok {
		return
	}

	start, end, err := parseWindow(r, "start", "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start.IsZero() {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return
	}

	available, err := s.bookings.CheckAvailability(r.Context(), roomID, start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":   roomID,
		"start":     start,
		"end":       end,
		"available": available,
	})
}

// fail writes err as a response. Unexpected errors are logged and hidden.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !domain.IsClientError(err) && !domain.IsRetryable(err) {
		s.logger.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeDomainError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// parseWindow reads an RFC3339 pair of query parameters. Both or neither must
// be present; with neither, zero times are returned.
func parseWindow(r *http.Request, fromKey, toKey string) (time.Time, time.Time, error) {
	q := r.URL.Query()
	rawFrom := strings.TrimSpace(q.Get(fromKey))
	rawTo := strings.TrimSpace(q.Get(toKey))

	if rawFrom == "" && rawTo == "" {
		return time.Time{}, time.Time{}, nil
	}
	if rawFrom == "" || rawTo == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%s and %s must be given together", fromKey, toKey)
	}

	from, err := time.Parse(time.RFC3339, rawFrom)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s; expected RFC3339", fromKey)
	}
	to, err := time.Parse(time.RFC3339, rawTo)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s; expected RFC3339", toKey)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, domain.ErrInvalidRange
	}
	return from.UTC(), to.UTC(), nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field %s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
