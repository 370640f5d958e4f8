package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

type SurveyStore interface {
	SurveyReader
	InsertSurvey(ctx context.Context, sv *models.Survey) error
	UpdateSurvey(ctx context.Context, sv *models.Survey) error
	// DeleteSurvey removes the survey with its questions, responses and answers.
	DeleteSurvey(ctx context.Context, id string) error
	ListSurveysByOwner(ctx context.Context, ownerID string) ([]*models.Survey, error)
	InsertQuestion(ctx context.Context, q *models.Question) error
	ReorderQuestions(ctx context.Context, surveyID string, order []string) error
}

// QuestionInput is the caller-supplied definition of a question.
type QuestionInput struct {
	Type     string
	Title    string
	Required bool
	Options  []string
	Order    *int
	Min      int
	Max      int
}

// SurveyInput creates a survey. Nil policy pointers take the defaults:
// active, accepting responses, no login, unlimited.
type SurveyInput struct {
	Title            string
	Description      string
	IsActive         *bool
	AcceptsResponses *bool
	RequiresLogin    bool
	LimitOne         bool
	Deadline         *time.Time
	MaxResponses     int
	Questions        []QuestionInput
}

// SurveyPatch updates the fields that are set.
type SurveyPatch struct {
	Title            *string
	Description      *string
	IsActive         *bool
	AcceptsResponses *bool
	RequiresLogin    *bool
	LimitOne         *bool
	Deadline         *time.Time
	ClearDeadline    bool
	MaxResponses     *int
}

type SurveyService struct {
	store             SurveyStore
	strictDescription bool
	now               func() time.Time
	idGen             func() string
	tokenGen          func() string
}

func NewSurveyService(store SurveyStore, strictDescription bool) *SurveyService {
	return &SurveyService{
		store:             store,
		strictDescription: strictDescription,
		now:               func() time.Time { return time.Now().UTC() },
		idGen:             uuid.NewString,
		tokenGen:          newShareToken,
	}
}

func newShareToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BuildQuestion validates a question definition. Choice-like questions need
// at least two options.
func BuildQuestion(in QuestionInput) (*models.Question, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, NewInvalidError("question title required")
	}
	qt, ok := models.ParseQuestionType(in.Type)
	if !ok {
		return nil, NewInvalidError("unknown question type: " + in.Type)
	}
	q := &models.Question{Type: qt, Title: title, Required: in.Required}
	if in.Order != nil {
		q.Order = *in.Order
	}
	if qt.IsChoice() {
		opts := make([]string, 0, len(in.Options))
		seen := map[string]bool{}
		for _, o := range in.Options {
			o = strings.TrimSpace(o)
			if o == "" {
				continue
			}
			if seen[o] {
				return nil, NewInvalidError("duplicate option: " + o)
			}
			seen[o] = true
			opts = append(opts, o)
		}
		if len(opts) < 2 {
			return nil, NewInvalidError("choice questions need at least 2 options")
		}
		q.Options = opts
	}
	if qt == models.Scale {
		if in.Min != 0 || in.Max != 0 {
			if in.Max <= in.Min {
				return nil, NewInvalidError("scale max must be greater than min")
			}
			q.Min, q.Max = in.Min, in.Max
		}
	}
	return q, nil
}

func (s *SurveyService) CreateSurvey(ctx context.Context, ownerID string, in SurveyInput) (*models.Survey, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, NewInvalidError("title required")
	}
	desc := strings.TrimSpace(in.Description)
	if s.strictDescription && desc == "" {
		return nil, NewInvalidError("description required")
	}
	if in.MaxResponses < 0 {
		return nil, NewInvalidError("max_responses must be positive")
	}
	now := s.now()
	sv := &models.Survey{
		ID:                            s.idGen(),
		OwnerID:                       ownerID,
		Title:                         title,
		Description:                   desc,
		CreatedAt:                     now,
		UpdatedAt:                     now,
		IsActive:                      boolOr(in.IsActive, true),
		AcceptsResponses:              boolOr(in.AcceptsResponses, true),
		RequiresLogin:                 in.RequiresLogin,
		LimitOneResponsePerRespondent: in.LimitOne,
		Deadline:                      in.Deadline,
		MaxResponses:                  in.MaxResponses,
		ShareToken:                    s.tokenGen(),
	}
	for i, qin := range in.Questions {
		q, err := BuildQuestion(qin)
		if err != nil {
			return nil, err
		}
		if qin.Order == nil {
			q.Order = i
		}
		q.ID = s.idGen()
		q.SurveyID = sv.ID
		sv.Questions = append(sv.Questions, q)
	}
	if err := s.store.InsertSurvey(ctx, sv); err != nil {
		return nil, err
	}
	return sv, nil
}

// AddQuestion appends a question to a survey owned by ownerID.
func (s *SurveyService) AddQuestion(ctx context.Context, ownerID, surveyID string, in QuestionInput) (*models.Question, error) {
	sv, err := s.owned(ctx, ownerID, surveyID)
	if err != nil {
		return nil, err
	}
	q, err := BuildQuestion(in)
	if err != nil {
		return nil, err
	}
	if in.Order == nil {
		q.Order = sv.NextOrder()
	}
	q.ID = s.idGen()
	q.SurveyID = sv.ID
	if err := s.store.InsertQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// ReorderQuestions assigns order values following the given question ids,
// which must name every question of the survey exactly once.
func (s *SurveyService) ReorderQuestions(ctx context.Context, ownerID, surveyID string, order []string) (int, error) {
	if len(order) == 0 {
		return 0, NewInvalidError("order required")
	}
	sv, err := s.owned(ctx, ownerID, surveyID)
	if err != nil {
		return 0, err
	}
	if len(order) != len(sv.Questions) {
		return 0, NewInvalidError("order must list every question")
	}
	seen := map[string]bool{}
	for _, id := range order {
		if sv.Question(id) == nil || seen[id] {
			return 0, NewInvalidError("invalid question id in order: " + id)
		}
		seen[id] = true
	}
	if err := s.store.ReorderQuestions(ctx, surveyID, order); err != nil {
		return 0, err
	}
	return len(order), nil
}

func (s *SurveyService) GetSurvey(ctx context.Context, id string) (*models.Survey, error) {
	sv, err := s.store.GetSurvey(ctx, id)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, ErrSurveyNotFound
	}
	return sv, nil
}

// GetSurveyByShareToken resolves a share link. The returned error reports
// why the survey cannot currently take responses, alongside the survey itself.
func (s *SurveyService) GetSurveyByShareToken(ctx context.Context, token string) (*models.Survey, error) {
	sv, err := s.store.GetSurveyByShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, ErrSurveyNotFound
	}
	return sv, CheckAvailability(sv, s.now())
}

func (s *SurveyService) ListSurveys(ctx context.Context, ownerID string) ([]*models.Survey, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	return s.store.ListSurveysByOwner(ctx, ownerID)
}

func (s *SurveyService) UpdateSurvey(ctx context.Context, ownerID, surveyID string, p SurveyPatch) (*models.Survey, error) {
	sv, err := s.owned(ctx, ownerID, surveyID)
	if err != nil {
		return nil, err
	}
	updated := *sv
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return nil, NewInvalidError("title required")
		}
		updated.Title = t
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		if s.strictDescription && d == "" {
			return nil, NewInvalidError("description required")
		}
		updated.Description = d
	}
	if p.IsActive != nil {
		updated.IsActive = *p.IsActive
	}
	if p.AcceptsResponses != nil {
		updated.AcceptsResponses = *p.AcceptsResponses
	}
	if p.RequiresLogin != nil {
		updated.RequiresLogin = *p.RequiresLogin
	}
	if p.LimitOne != nil {
		updated.LimitOneResponsePerRespondent = *p.LimitOne
	}
	if p.ClearDeadline {
		updated.Deadline = nil
	} else if p.Deadline != nil {
		updated.Deadline = p.Deadline
	}
	if p.MaxResponses != nil {
		if *p.MaxResponses < 0 {
			return nil, NewInvalidError("max_responses must be positive")
		}
		updated.MaxResponses = *p.MaxResponses
	}
	updated.UpdatedAt = s.now()
	if err := s.store.UpdateSurvey(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteSurvey removes a survey together with its questions and responses.
func (s *SurveyService) DeleteSurvey(ctx context.Context, ownerID, surveyID string) error {
	if _, err := s.owned(ctx, ownerID, surveyID); err != nil {
		return err
	}
	return s.store.DeleteSurvey(ctx, surveyID)
}

func (s *SurveyService) owned(ctx context.Context, ownerID, surveyID string) (*models.Survey, error) {
	return loadOwnedSurvey(ctx, s.store, ownerID, surveyID)
}

func loadOwnedSurvey(ctx context.Context, store SurveyReader, ownerID, surveyID string) (*models.Survey, error) {
	if ownerID == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	sv, err := store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, ErrSurveyNotFound
	}
	if sv.OwnerID != ownerID {
		return nil, NewForbiddenError("forbidden")
	}
	return sv, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
