package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

// ResponseStore abstracts persistence operations required by ResponseService.
type ResponseStore interface {
	SurveyReader
	ResponseLister
	CountResponses(ctx context.Context, surveyID string) (int, error)
	// FindResponseByRespondent matches on models.Respondent.Key of stored responses.
	FindResponseByRespondent(ctx context.Context, surveyID, respondentKey string) (*models.Response, error)
	// InsertResponse writes a response and all of its answers atomically. When
	// maxResponses is positive and already reached it fails with
	// ErrResponseLimitReached; a second response with the same non-empty
	// DedupeKey fails with ErrDuplicateResponse.
	InsertResponse(ctx context.Context, r *models.Response, maxResponses int) error
	GetResponse(ctx context.Context, id string) (*models.Response, error)
	DeleteResponse(ctx context.Context, id string) error
}

// SubmitRequest carries a sanitized submission into the service layer.
// Exactly one of SurveyID and ShareToken is expected.
type SubmitRequest struct {
	SurveyID   string
	ShareToken string
	Respondent models.Respondent
	Answers    []*models.Answer
	IPAddress  string
	UserAgent  string
}

// ResponseService hosts the submission workflow and response management.
type ResponseService struct {
	store    ResponseStore
	locker   SubmissionLocker
	observer SubmissionObserver
	now      func() time.Time
	idGen    func() string
}

// NewResponseService constructs a service bound to the provided persistence
// interface. locker may be nil when storage alone serializes submissions.
func NewResponseService(store ResponseStore, locker SubmissionLocker) *ResponseService {
	return &ResponseService{
		store:    store,
		locker:   locker,
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    uuid.NewString,
	}
}

// WithObserver attaches a submission observer.
func (s *ResponseService) WithObserver(o SubmissionObserver) *ResponseService {
	if o != nil {
		s.observer = o
	}
	return s
}

// Submit runs eligibility, validates every answer and persists the response
// with its answers in one write. Nothing is stored when any step fails.
func (s *ResponseService) Submit(ctx context.Context, req SubmitRequest) (*models.Response, error) {
	resp, err := s.submit(ctx, req)
	if err != nil {
		s.observer.ResponseRejected(rejectionReason(err))
		return nil, err
	}
	s.observer.ResponseAccepted(resp.SurveyID)
	return resp, nil
}

func (s *ResponseService) submit(ctx context.Context, req SubmitRequest) (*models.Response, error) {
	if s.store == nil {
		return nil, errors.New("response service store is nil")
	}
	survey, err := s.resolveSurvey(ctx, req)
	if err != nil {
		return nil, err
	}
	if survey == nil {
		return nil, ErrSurveyNotFound
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "survey:"+survey.ID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	state := EligibilityState{}
	if survey.MaxResponses > 0 {
		if state.ResponseCount, err = s.store.CountResponses(ctx, survey.ID); err != nil {
			return nil, err
		}
	}
	key := req.Respondent.Key()
	if survey.LimitOneResponsePerRespondent && key != "" {
		prior, err := s.store.FindResponseByRespondent(ctx, survey.ID, key)
		if err != nil {
			return nil, err
		}
		state.HasPriorResponse = prior != nil
	}
	now := s.now()
	if err := CheckEligibility(survey, req.Respondent, state, now); err != nil {
		return nil, err
	}
	if err := ValidateSubmission(survey, req.Answers); err != nil {
		return nil, err
	}

	resp := &models.Response{
		ID:              s.idGen(),
		SurveyID:        survey.ID,
		RespondentID:    strings.TrimSpace(req.Respondent.UserID),
		RespondentEmail: strings.TrimSpace(req.Respondent.Email),
		SubmittedAt:     now,
		IPAddress:       req.IPAddress,
		UserAgent:       req.UserAgent,
	}
	if survey.LimitOneResponsePerRespondent {
		resp.DedupeKey = key
	}
	for _, a := range req.Answers {
		if a == nil || a.Empty() {
			continue
		}
		cp := *a
		cp.ID = s.idGen()
		cp.ResponseID = resp.ID
		resp.Answers = append(resp.Answers, &cp)
	}

	if err := s.store.InsertResponse(ctx, resp, survey.MaxResponses); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *ResponseService) resolveSurvey(ctx context.Context, req SubmitRequest) (*models.Survey, error) {
	if req.ShareToken != "" {
		return s.store.GetSurveyByShareToken(ctx, req.ShareToken)
	}
	if req.SurveyID == "" {
		return nil, nil
	}
	return s.store.GetSurvey(ctx, req.SurveyID)
}

// GetResponse returns a response visible to userID: the survey owner or the
// respondent who submitted it.
func (s *ResponseService) GetResponse(ctx context.Context, userID, responseID string) (*models.Response, error) {
	resp, survey, err := s.loadOwned(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if !canAccessResponse(userID, survey, resp) {
		return nil, NewForbiddenError("not authorized to view this response")
	}
	return resp, nil
}

// ListResponses returns all responses of a survey to its owner.
func (s *ResponseService) ListResponses(ctx context.Context, userID, surveyID string) ([]*models.Response, error) {
	survey, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if survey == nil {
		return nil, ErrSurveyNotFound
	}
	if survey.OwnerID != userID {
		return nil, NewForbiddenError("not authorized to view responses")
	}
	return s.store.ListResponses(ctx, surveyID)
}

// DeleteResponse removes a response (and its answers) for the survey owner
// or the respondent.
func (s *ResponseService) DeleteResponse(ctx context.Context, userID, responseID string) error {
	resp, survey, err := s.loadOwned(ctx, responseID)
	if err != nil {
		return err
	}
	if !canAccessResponse(userID, survey, resp) {
		return NewForbiddenError("not authorized to delete this response")
	}
	return s.store.DeleteResponse(ctx, responseID)
}

func (s *ResponseService) loadOwned(ctx context.Context, responseID string) (*models.Response, *models.Survey, error) {
	resp, err := s.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, nil, err
	}
	if resp == nil {
		return nil, nil, NewNotFoundError("response not found")
	}
	survey, err := s.store.GetSurvey(ctx, resp.SurveyID)
	if err != nil {
		return nil, nil, err
	}
	if survey == nil {
		return nil, nil, ErrSurveyNotFound
	}
	return resp, survey, nil
}

func canAccessResponse(userID string, survey *models.Survey, resp *models.Response) bool {
	if userID == "" {
		return false
	}
	return survey.OwnerID == userID || resp.RespondentID == userID
}

func rejectionReason(err error) Reason {
	if re, ok := AsRejection(err); ok {
		return re.Reason
	}
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ReasonValidationFailed
	}
	return "error"
}
