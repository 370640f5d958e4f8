package services

import (
	"errors"
	"testing"
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

func TestCheckEligibilityOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	anon := models.Respondent{}
	user := models.Respondent{UserID: "u1"}

	cases := []struct {
		name   string
		survey *models.Survey
		who    models.Respondent
		state  EligibilityState
		want   error
	}{
		{"missing survey", nil, anon, EligibilityState{}, ErrSurveyNotFound},
		{"inactive wins over everything", &models.Survey{AcceptsResponses: false, RequiresLogin: true, Deadline: &past}, anon, EligibilityState{}, ErrSurveyInactive},
		{"closed before login", &models.Survey{IsActive: true, RequiresLogin: true}, anon, EligibilityState{}, ErrNotAcceptingResponses},
		{"login before deadline", &models.Survey{IsActive: true, AcceptsResponses: true, RequiresLogin: true, Deadline: &past}, anon, EligibilityState{}, ErrLoginRequired},
		{"deadline before limit", &models.Survey{IsActive: true, AcceptsResponses: true, Deadline: &past, MaxResponses: 1}, user, EligibilityState{ResponseCount: 1}, ErrDeadlinePassed},
		{"limit before duplicate", &models.Survey{IsActive: true, AcceptsResponses: true, MaxResponses: 2, LimitOneResponsePerRespondent: true}, user, EligibilityState{ResponseCount: 2, HasPriorResponse: true}, ErrResponseLimitReached},
		{"duplicate", &models.Survey{IsActive: true, AcceptsResponses: true, LimitOneResponsePerRespondent: true}, user, EligibilityState{HasPriorResponse: true}, ErrDuplicateResponse},
		{"open with future deadline", &models.Survey{IsActive: true, AcceptsResponses: true, RequiresLogin: true, Deadline: &future, MaxResponses: 3}, user, EligibilityState{ResponseCount: 2}, nil},
		{"deadline equal to now still open", &models.Survey{IsActive: true, AcceptsResponses: true, Deadline: &now}, anon, EligibilityState{}, nil},
		{"zero max means unlimited", &models.Survey{IsActive: true, AcceptsResponses: true}, anon, EligibilityState{ResponseCount: 1000}, nil},
		{"prior response ignored without limit", &models.Survey{IsActive: true, AcceptsResponses: true}, user, EligibilityState{HasPriorResponse: true}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckEligibility(tc.survey, tc.who, tc.state, now)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected eligible, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCheckAvailabilityIgnoresRespondent(t *testing.T) {
	now := time.Now()
	sv := &models.Survey{IsActive: true, AcceptsResponses: true, RequiresLogin: true, MaxResponses: 1}
	if err := CheckAvailability(sv, now); err != nil {
		t.Fatalf("expected available, got %v", err)
	}
	past := now.Add(-time.Minute)
	sv.Deadline = &past
	if err := CheckAvailability(sv, now); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("expected deadline passed, got %v", err)
	}
}
