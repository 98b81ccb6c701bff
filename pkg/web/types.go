// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/adrianstanca1/CortexBuild-sub003/pkg/models"

// InvokeWorkflowRequest is the body of a manual run.
type InvokeWorkflowRequest struct {
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty" validate:"max=200"`
}

// AdmissionResponse reports what became of a fire intent.
type AdmissionResponse struct {
	Status models.AdmissionOutcome `json:"status"`
	RunID  string                  `json:"runId,omitempty"`
}

func newAdmissionResponse(admission models.Admission) AdmissionResponse {
	return AdmissionResponse{Status: admission.Outcome, RunID: admission.RunID}
}

// EventAccepted acknowledges an inbound domain event.
type EventAccepted struct {
	ID string `json:"id"`
}
