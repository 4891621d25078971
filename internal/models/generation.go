package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationRecord is the audit row written after a validated generation.
// OutputText holds the first (chosen) variation; Variations holds all of them.
type GenerationRecord struct {
	ID                 uuid.UUID  `json:"id"`
	PrincipalID        uuid.UUID  `json:"principal_id"`
	InputText          string     `json:"input_text"`
	OutputText         string     `json:"output_text"`
	Variations         []string   `json:"variations"`
	Format             string     `json:"format"`
	Tone               string     `json:"tone"`
	CreditsCharged     int        `json:"credits_charged"`
	UsageTransactionID *uuid.UUID `json:"usage_transaction_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}
