package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         int64          `json:"id"`
	ActorAgent *string        `json:"actor_agent,omitempty"`
	ActorType  string         `json:"actor_type"` // agent / system
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   *uuid.UUID     `json:"entity_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
