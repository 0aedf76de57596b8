package handler

import (
	"strings"

	dErrors "umoja/pkg/domain-errors"
)

// SubmitEvidenceRequest is the body of POST .../evidence.
type SubmitEvidenceRequest struct {
	Refs []string `json:"refs"`
}

func (r *SubmitEvidenceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Refs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "refs are required")
	}
	return nil
}

// ConfirmRequest is the body of POST .../verify. Proof refs are optional.
type ConfirmRequest struct {
	Proof []string `json:"proof,omitempty"`
}

func (r *ConfirmRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// SignalRequest carries an oracle or time-based report.
type SignalRequest struct {
	Source    string `json:"source"`
	Satisfied bool   `json:"satisfied"`
	Reason    string `json:"reason,omitempty"`
}

func (r *SignalRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Source = strings.TrimSpace(r.Source)
	if r.Source == "" {
		return dErrors.New(dErrors.CodeValidation, "source is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

type EvidenceResponse struct {
	Ref string `json:"ref"`
}
