package services

import (
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

// EligibilityState is the mutable per-survey data the checks depend on,
// read by the caller under the survey's submission lock.
type EligibilityState struct {
	ResponseCount    int
	HasPriorResponse bool
}

// CheckEligibility decides whether survey may accept a new response from
// respondent at now. Checks run in a fixed order and the first failure wins.
func CheckEligibility(survey *models.Survey, respondent models.Respondent, state EligibilityState, now time.Time) error {
	if survey == nil {
		return ErrSurveyNotFound
	}
	if !survey.IsActive {
		return ErrSurveyInactive
	}
	if !survey.AcceptsResponses {
		return ErrNotAcceptingResponses
	}
	if survey.RequiresLogin && !respondent.Authenticated() {
		return ErrLoginRequired
	}
	if survey.Deadline != nil && now.After(*survey.Deadline) {
		return ErrDeadlinePassed
	}
	if survey.MaxResponses > 0 && state.ResponseCount >= survey.MaxResponses {
		return ErrResponseLimitReached
	}
	if survey.LimitOneResponsePerRespondent && state.HasPriorResponse {
		return ErrDuplicateResponse
	}
	return nil
}

// CheckAvailability runs the respondent-independent part of CheckEligibility,
// used when a survey is opened through its share link.
func CheckAvailability(survey *models.Survey, now time.Time) error {
	if survey == nil {
		return ErrSurveyNotFound
	}
	if !survey.IsActive {
		return ErrSurveyInactive
	}
	if !survey.AcceptsResponses {
		return ErrNotAcceptingResponses
	}
	if survey.Deadline != nil && now.After(*survey.Deadline) {
		return ErrDeadlinePassed
	}
	return nil
}
