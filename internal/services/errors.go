package services

import (
	"errors"
	"strings"
)

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorForbidden    ErrorCode = "forbidden"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
	ErrorUnauthorized ErrorCode = "unauthorized"
)

// ServiceError covers failures outside the submission/statistics taxonomy
// (ownership, malformed input, credentials).
type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Reason names why a submission or statistics request was rejected.
type Reason string

const (
	ReasonSurveyNotFound        Reason = "survey_not_found"
	ReasonSurveyInactive        Reason = "survey_inactive"
	ReasonNotAcceptingResponses Reason = "not_accepting_responses"
	ReasonLoginRequired         Reason = "login_required"
	ReasonDeadlinePassed        Reason = "deadline_passed"
	ReasonResponseLimitReached  Reason = "response_limit_reached"
	ReasonDuplicateResponse     Reason = "duplicate_response"
	ReasonUnknownQuestion       Reason = "unknown_question"
	ReasonRequiredAnswerMissing Reason = "required_answer_missing"
	ReasonTypeMismatch          Reason = "type_mismatch"
	ReasonInvalidOption         Reason = "invalid_option"
	ReasonNotANumber            Reason = "not_a_number"
	ReasonOutOfRange            Reason = "out_of_range"
	ReasonInvalidFormat         Reason = "invalid_format"
	ReasonDuplicateAnswer       Reason = "duplicate_answer"
	ReasonValidationFailed      Reason = "validation_failed"
)

// RejectionError is a policy or validation rejection. Two rejections match
// under errors.Is when their reasons are equal.
type RejectionError struct {
	Reason  Reason
	Message string
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Reason == e.Reason
}

func reject(reason Reason, msg string) *RejectionError {
	return &RejectionError{Reason: reason, Message: msg}
}

var (
	ErrSurveyNotFound        = reject(ReasonSurveyNotFound, "survey not found")
	ErrSurveyInactive        = reject(ReasonSurveyInactive, "survey is not active")
	ErrNotAcceptingResponses = reject(ReasonNotAcceptingResponses, "survey is not accepting responses")
	ErrLoginRequired         = reject(ReasonLoginRequired, "login required to submit response")
	ErrDeadlinePassed        = reject(ReasonDeadlinePassed, "survey deadline has passed")
	ErrResponseLimitReached  = reject(ReasonResponseLimitReached, "survey has reached maximum responses")
	ErrDuplicateResponse     = reject(ReasonDuplicateResponse, "you have already submitted a response")

	ErrUnknownQuestion       = reject(ReasonUnknownQuestion, "unknown question")
	ErrRequiredAnswerMissing = reject(ReasonRequiredAnswerMissing, "answer required")
	ErrTypeMismatch          = reject(ReasonTypeMismatch, "answer type does not match question type")
	ErrInvalidOption         = reject(ReasonInvalidOption, "invalid option")
	ErrNotANumber            = reject(ReasonNotANumber, "answer requires a number")
	ErrOutOfRange            = reject(ReasonOutOfRange, "answer outside allowed range")
	ErrInvalidFormat         = reject(ReasonInvalidFormat, "answer has invalid format")
	ErrDuplicateAnswer       = reject(ReasonDuplicateAnswer, "question answered more than once")
)

// AsRejection extracts the rejection reason from err, if any.
func AsRejection(err error) (*RejectionError, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// AnswerError is a validation failure for a single answer.
type AnswerError struct {
	QuestionID string `json:"question_id"`
	Reason     Reason `json:"reason"`
	Message    string `json:"message"`
}

func (e *AnswerError) Error() string {
	return e.QuestionID + ": " + e.Message
}

func (e *AnswerError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Reason == e.Reason
}

// ValidationErrors collects every failing answer of a submission.
type ValidationErrors []*AnswerError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "invalid answers: " + strings.Join(parts, "; ")
}

// Is matches the reason of any contained failure, so callers can test
// errors.Is(err, ErrInvalidOption) against a whole submission.
func (v ValidationErrors) Is(target error) bool {
	for _, e := range v {
		if e.Is(target) {
			return true
		}
	}
	return false
}
