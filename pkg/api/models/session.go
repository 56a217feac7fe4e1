// Package models defines API request/response data structures.
package models

import (
	"time"

	"github.com/mindwell/convomem/pkg/cognition"
	"github.com/mindwell/convomem/pkg/conversation"
)

// TurnRequest reports one completed exchange.
type TurnRequest struct {
	// TurnNumber is the exchange number. Zero means the next exchange.
	TurnNumber int `json:"turn_number" validate:"gte=0"`

	// Message is what the user said.
	Message string `json:"message" validate:"required,max=4000"`

	// Response is what the assistant answered.
	Response string `json:"response" validate:"max=8000"`

	// Emotion is the classified emotion of the message.
	Emotion string `json:"emotion" validate:"max=64"`

	// Intensity is the classified intensity in [0, 1]. Omitted means 0.5.
	Intensity *float64 `json:"intensity,omitempty"`

	// Technique is the therapeutic technique the response used.
	Technique string `json:"technique" validate:"max=64"`
}

// GoalRequest records a goal the user stated.
type GoalRequest struct {
	Goal string `json:"goal" validate:"required,min=1,max=500"`
}

// EndSessionRequest ends a session.
type EndSessionRequest struct {
	// TurnNumber correlates the summary event. Zero means the last exchange.
	TurnNumber int `json:"turn_number" validate:"gte=0"`
}

// SessionSummary is one row of a stored session listing.
type SessionSummary struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Phase          string     `json:"phase"`
	TotalExchanges int        `json:"total_exchanges"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// SessionListResponse represents a paginated list of sessions.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ContextResponse carries the rendered session state.
type ContextResponse struct {
	SessionID string `json:"session_id"`
	Context   string `json:"context"`
}

// OverviewResponse is the admin sessions overview.
type OverviewResponse struct {
	Sessions []conversation.SessionOverview `json:"sessions"`
	Stats    conversation.OverviewStats     `json:"stats"`
}

// EventsResponse is a page of recent cognition events.
type EventsResponse struct {
	Events []cognition.Event `json:"events"`
	Total  int               `json:"total"`
}

// SessionDetailResponse is the admin view of one session.
type SessionDetailResponse struct {
	SessionID     string                `json:"session_id"`
	Memory        conversation.Snapshot `json:"memory"`
	Events        []cognition.Event     `json:"events"`
	ContextString string                `json:"context_string"`
}
