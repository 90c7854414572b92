package api

import (
	"time"
)

type (
	// HealthStatus represents the response for GET /health.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"service_name"` //nolint:tagliatelle
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// EventListResponse represents the response for GET /api/v1/events.
	// Contains a paginated list of events with metadata for pagination.
	EventListResponse struct {
		Events []EventSummary `json:"events"`
		Total  int            `json:"total"`
		Limit  int            `json:"limit"`
		Offset int            `json:"offset"`
	}

	// EventSummary represents a single event in the list view.
	// This is a simplified view optimized for calendar display.
	// Use GET /api/v1/events/{id} for full event details.
	EventSummary struct {
		ID           int64      `json:"id"`
		Source       string     `json:"source"`
		RideID       string     `json:"ride_id,omitempty"` //nolint:tagliatelle
		Name         string     `json:"name"`
		DateStart    time.Time  `json:"date_start"`         //nolint:tagliatelle
		DateEnd      *time.Time `json:"date_end,omitempty"` //nolint:tagliatelle
		Location     string     `json:"location,omitempty"`
		Region       string     `json:"region,omitempty"`
		Distances    []string   `json:"distances,omitempty"`
		IsCanceled   bool       `json:"is_canceled"`    //nolint:tagliatelle
		HasIntroRide bool       `json:"has_intro_ride"` //nolint:tagliatelle
		IsMultiDay   bool       `json:"is_multi_day"`   //nolint:tagliatelle
	}

	// EventDetailResponse represents the response for GET /api/v1/events/{id}.
	// Contains full event information including officials, manager contact,
	// and source-specific details.
	EventDetailResponse struct {
		ID        int64      `json:"id"`
		Source    string     `json:"source"`
		RideID    string     `json:"ride_id,omitempty"` //nolint:tagliatelle
		Name      string     `json:"name"`
		DateStart time.Time  `json:"date_start"`         //nolint:tagliatelle
		DateEnd   *time.Time `json:"date_end,omitempty"` //nolint:tagliatelle

		Location    string       `json:"location,omitempty"`
		Region      string       `json:"region,omitempty"`
		Coordinates *Coordinates `json:"coordinates,omitempty"`

		Distances []string      `json:"distances,omitempty"`
		Judges    []JudgeDetail `json:"judges,omitempty"`

		IsCanceled   bool `json:"is_canceled"`    //nolint:tagliatelle
		IsVerified   bool `json:"is_verified"`    //nolint:tagliatelle
		HasIntroRide bool `json:"has_intro_ride"` //nolint:tagliatelle
		IsMultiDay   bool `json:"is_multi_day"`   //nolint:tagliatelle
		IsPioneer    bool `json:"is_pioneer"`     //nolint:tagliatelle
		RideDays     int  `json:"ride_days"`      //nolint:tagliatelle

		Manager ContactDetail `json:"manager"`

		Website     string `json:"website,omitempty"`
		FlyerURL    string `json:"flyer_url,omitempty"` //nolint:tagliatelle
		MapLink     string `json:"map_link,omitempty"`  //nolint:tagliatelle
		Directions  string `json:"directions,omitempty"`
		Description string `json:"description,omitempty"`
		Notes       string `json:"notes,omitempty"`

		Details map[string]any `json:"details,omitempty"`

		CreatedAt time.Time `json:"created_at"` //nolint:tagliatelle
		UpdatedAt time.Time `json:"updated_at"` //nolint:tagliatelle
	}

	// Coordinates is a geocoded latitude/longitude pair.
	Coordinates struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}

	// JudgeDetail contains one named ride official.
	JudgeDetail struct {
		Name string `json:"name"`
		Role string `json:"role,omitempty"`
	}

	// ContactDetail contains the ride manager contact block.
	ContactDetail struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
		Phone string `json:"phone,omitempty"`
	}
)
