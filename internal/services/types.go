package services

import (
	"context"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

// SurveyReader resolves surveys, with their questions, by id or share token.
// Both methods return nil, nil when nothing matches.
type SurveyReader interface {
	GetSurvey(ctx context.Context, id string) (*models.Survey, error)
	GetSurveyByShareToken(ctx context.Context, token string) (*models.Survey, error)
}

// ResponseLister lists a survey's fully persisted responses with their answers.
type ResponseLister interface {
	ListResponses(ctx context.Context, surveyID string) ([]*models.Response, error)
}

// SubmissionLocker serializes the check-then-write sequence of submissions
// to the same survey.
type SubmissionLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SubmissionObserver is notified of submission outcomes (metrics).
type SubmissionObserver interface {
	ResponseAccepted(surveyID string)
	ResponseRejected(reason Reason)
}

type nopObserver struct{}

func (nopObserver) ResponseAccepted(string) {}
func (nopObserver) ResponseRejected(Reason) {}
