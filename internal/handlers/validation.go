package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxBodyBytes bounds request bodies; the largest field is a 50000 character PRD.
const maxBodyBytes = 1 << 20

// fieldErrors maps a JSON field to its validation messages.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

// length checks a string's length in characters, not bytes.
func (f fieldErrors) length(field, value string, min, max int, minMsg, maxMsg string) {
	n := utf8.RuneCountInString(value)
	if n < min {
		if minMsg == "" {
			minMsg = fmt.Sprintf("String must contain at least %d character(s)", min)
		}
		f.add(field, minMsg)
	}
	if n > max {
		if maxMsg == "" {
			maxMsg = fmt.Sprintf("String must contain at most %d character(s)", max)
		}
		f.add(field, maxMsg)
	}
}

func (f fieldErrors) uuid(field, value string) {
	if _, err := uuid.Parse(value); err != nil || len(value) != 36 {
		f.add(field, "Invalid project ID")
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body is too large")
		}
		return errors.New("request body must be valid JSON")
	}
	return nil
}

func writeInvalidInput(w http.ResponseWriter, details fieldErrors) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid input", Details: details})
}

type improveIdeaRequest struct {
	Idea      string `json:"idea"`
	ProjectID string `json:"projectId"`
}

func (r *improveIdeaRequest) validate() fieldErrors {
	errs := fieldErrors{}
	errs.length("idea", r.Idea, 20, 5000, "Idea must be at least 20 characters", "Idea must be under 5000 characters")
	errs.uuid("projectId", r.ProjectID)
	return errs
}

type generateDocumentRequest struct {
	Idea      string `json:"idea"`
	ProjectID string `json:"projectId"`
}

func (r *generateDocumentRequest) validate() fieldErrors {
	errs := fieldErrors{}
	errs.length("idea", r.Idea, 50, 10000, "Idea must be at least 50 characters", "")
	errs.uuid("projectId", r.ProjectID)
	return errs
}

type generateFollowupRequest struct {
	PRD          string `json:"prd"`
	ProjectID    string `json:"projectId"`
	ProjectTitle string `json:"projectTitle"`
}

func (r *generateFollowupRequest) validate() fieldErrors {
	errs := fieldErrors{}
	errs.length("prd", r.PRD, 100, 50000, "PRD must be at least 100 characters", "")
	errs.uuid("projectId", r.ProjectID)
	errs.length("projectTitle", r.ProjectTitle, 1, 200, "", "")
	return errs
}

type registerCredentialRequest struct {
	APIKey string `json:"apiKey"`
}

func (r *registerCredentialRequest) validate() fieldErrors {
	errs := fieldErrors{}
	errs.length("apiKey", r.APIKey, 10, 100, "Invalid API key format", "Invalid API key format")
	return errs
}
