package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/trailblaze-io/trailblaze/internal/api/middleware"
	"github.com/trailblaze-io/trailblaze/internal/events"
)

// handleGetEventDetails handles GET /api/v1/events/{id}.
// Returns full event information including officials and manager contact.
//
// Path Parameters:
//   - id: Event ID (numeric string)
//
// Response: EventDetailResponse.
func (s *Server) handleGetEventDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	idStr := r.PathValue("id")
	if idStr == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Missing event ID"))

		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid event ID: must be a numeric value"))

		return
	}

	event, err := s.reader.GetEvent(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query event",
			"correlation_id", correlationID,
			"event_id", id,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query event"))

		return
	}

	if event == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("Event not found"))

		return
	}

	response := mapEventToDetail(event)

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal event response",
			"correlation_id", correlationID,
			"event_id", id,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// mapEventToDetail converts a stored event to the API detail response.
func mapEventToDetail(ev *events.StoredEvent) EventDetailResponse {
	response := EventDetailResponse{
		ID:           ev.ID,
		Source:       ev.Source.String(),
		RideID:       ev.RideID,
		Name:         ev.Name,
		DateStart:    ev.DateStart,
		DateEnd:      optionalTime(ev.DateEnd),
		Location:     ev.Location,
		Region:       ev.Region,
		Distances:    distanceTexts(ev.Distances),
		IsCanceled:   ev.IsCanceled,
		IsVerified:   ev.IsVerified,
		HasIntroRide: ev.HasIntroRide,
		IsMultiDay:   ev.IsMultiDay,
		IsPioneer:    ev.IsPioneer,
		RideDays:     ev.RideDays,
		Manager:      mapManager(ev),
		Website:      ev.Website,
		FlyerURL:     ev.FlyerURL,
		MapLink:      ev.MapLink,
		Directions:   ev.Directions,
		Description:  ev.Description,
		Notes:        ev.Notes,
		Details:      ev.EventDetails,
		CreatedAt:    ev.CreatedAt,
		UpdatedAt:    ev.UpdatedAt,
	}

	if ev.Latitude != nil && ev.Longitude != nil {
		response.Coordinates = &Coordinates{
			Latitude:  *ev.Latitude,
			Longitude: *ev.Longitude,
		}
	}

	if len(ev.Judges) > 0 {
		judges := make([]JudgeDetail, 0, len(ev.Judges))
		for _, j := range ev.Judges {
			judges = append(judges, JudgeDetail{Name: j.Name, Role: j.Role})
		}

		response.Judges = judges
	}

	return response
}

// mapManager prefers the structured contact block and falls back to the
// flat manager columns for rows written before the block existed.
func mapManager(ev *events.StoredEvent) ContactDetail {
	contact := ContactDetail{
		Name:  ev.Contact.Name,
		Email: ev.Contact.Email,
		Phone: ev.Contact.Phone,
	}

	if contact.Name == "" {
		contact.Name = ev.RideManager
	}

	if contact.Email == "" {
		contact.Email = ev.ManagerEmail
	}

	if contact.Phone == "" {
		contact.Phone = ev.ManagerPhone
	}

	return contact
}
