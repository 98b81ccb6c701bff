// Package models defines the workflow automation domain: workflows with their
// trigger and action configuration, and the runs and steps they produce.
package models

import "time"

const (
	DefaultMaxExecutionsPerHour = 60
	DefaultMaxConcurrentRuns    = 1
)

// Workflow is a tenant-owned automation: one trigger and an ordered list of actions.
// The engine reads workflows but never mutates them.
type Workflow struct {
	ID                   string         `json:"id"`
	TenantID             string         `json:"tenantId"                      validate:"required"`
	Name                 string         `json:"name"                          validate:"required,min=3,max=200"`
	Description          string         `json:"description,omitempty"`
	Trigger              Trigger        `json:"trigger"                       validate:"-"`
	Actions              []Action       `json:"actions"                       validate:"required,min=1,max=50"`
	IsActive             bool           `json:"isActive"`
	MaxExecutionsPerHour int            `json:"maxExecutionsPerHour"          validate:"min=1,max=10000"`
	MaxConcurrentRuns    int            `json:"maxConcurrentRuns"             validate:"min=1,max=100"`
	DedupeWindowSeconds  int            `json:"dedupeWindowSeconds,omitempty" validate:"min=0,max=604800"`
	Constants            map[string]any `json:"constants,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// ApplyDefaults fills the advanced settings left unset by the authoring surface.
func (w *Workflow) ApplyDefaults() {
	if w.MaxExecutionsPerHour == 0 {
		w.MaxExecutionsPerHour = DefaultMaxExecutionsPerHour
	}

	if w.MaxConcurrentRuns == 0 {
		w.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}

	w.Trigger.applyDefaults()

	for i := range w.Actions {
		w.Actions[i].applyDefaults()
	}
}

// DedupeWindow returns the workflow's dedupe window, or fallback when unset.
func (w *Workflow) DedupeWindow(fallback time.Duration) time.Duration {
	if w.DedupeWindowSeconds > 0 {
		return time.Duration(w.DedupeWindowSeconds) * time.Second
	}

	return fallback
}

