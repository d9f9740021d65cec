package main

import (
	"errors"
	"net/http"
)

var (
	ErrSubjectRequired     = errors.New("subject is required")
	ErrSubjectTooLong      = errors.New("subject is too long")
	ErrInvalidDeadline     = errors.New("deadline must be a date formatted YYYY-MM-DD")
	ErrDeadlineNotFuture   = errors.New("deadline is not in the future")
	ErrDeadlineTooFar      = errors.New("deadline is too far away")
	ErrUnsupportedSyllabus = errors.New("unsupported syllabus file type")
	ErrUploadTooLarge      = errors.New("syllabus upload is too large")

	// ErrGeneration wraps any failure of the LLM call itself.
	ErrGeneration    = errors.New("plan generation failed")
	ErrEmptyResponse = errors.New("empty response from agent")

	ErrPlanNotFound  = errors.New("study plan not found")
	ErrQueueDisabled = errors.New("async generation is not configured")
)

// userMessage turns an error into the text shown on the form.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrDeadlineNotFuture):
		return "Please select a deadline in the future!"
	case errors.Is(err, ErrSubjectRequired):
		return "Please enter a subject name."
	case errors.Is(err, ErrGeneration):
		return "Error during generation: " + err.Error()
	default:
		return err.Error()
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrSubjectRequired),
		errors.Is(err, ErrSubjectTooLong),
		errors.Is(err, ErrInvalidDeadline),
		errors.Is(err, ErrDeadlineNotFuture),
		errors.Is(err, ErrDeadlineTooFar),
		errors.Is(err, ErrUnsupportedSyllabus):
		return http.StatusBadRequest
	case errors.Is(err, ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrQueueDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusRequestEntityTooLarge:
		return "upload_too_large"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusBadGateway:
		return "generation_failed"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "internal_error"
	}
}
