package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

type stubStore struct {
	mu        sync.Mutex
	surveys   map[string]*models.Survey
	responses []*models.Response
	inserts   int
}

func newStubStore(surveys ...*models.Survey) *stubStore {
	s := &stubStore{surveys: map[string]*models.Survey{}}
	for _, sv := range surveys {
		s.surveys[sv.ID] = sv
	}
	return s
}

func (s *stubStore) GetSurvey(_ context.Context, id string) (*models.Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surveys[id], nil
}

func (s *stubStore) GetSurveyByShareToken(_ context.Context, token string) (*models.Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sv := range s.surveys {
		if sv.ShareToken != "" && sv.ShareToken == token {
			return sv, nil
		}
	}
	return nil, nil
}

func (s *stubStore) ListResponses(_ context.Context, surveyID string) ([]*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Response
	for _, r := range s.responses {
		if r.SurveyID == surveyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubStore) CountResponses(ctx context.Context, surveyID string) (int, error) {
	rs, _ := s.ListResponses(ctx, surveyID)
	return len(rs), nil
}

func (s *stubStore) FindResponseByRespondent(_ context.Context, surveyID, key string) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.SurveyID == surveyID && r.Respondent().Key() == key {
			return r, nil
		}
	}
	return nil, nil
}

func (s *stubStore) InsertResponse(_ context.Context, r *models.Response, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, existing := range s.responses {
		if existing.SurveyID != r.SurveyID {
			continue
		}
		n++
		if r.DedupeKey != "" && existing.DedupeKey == r.DedupeKey {
			return ErrDuplicateResponse
		}
	}
	if limit > 0 && n >= limit {
		return ErrResponseLimitReached
	}
	s.responses = append(s.responses, r)
	s.inserts++
	return nil
}

func (s *stubStore) GetResponse(_ context.Context, id string) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (s *stubStore) DeleteResponse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.responses {
		if r.ID == id {
			s.responses = append(s.responses[:i], s.responses[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *stubStore) InsertSurvey(_ context.Context, sv *models.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surveys[sv.ID] = sv
	return nil
}

func (s *stubStore) UpdateSurvey(_ context.Context, sv *models.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surveys[sv.ID] = sv
	return nil
}

func (s *stubStore) DeleteSurvey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.surveys, id)
	kept := s.responses[:0]
	for _, r := range s.responses {
		if r.SurveyID != id {
			kept = append(kept, r)
		}
	}
	s.responses = kept
	return nil
}

func (s *stubStore) ListSurveysByOwner(_ context.Context, ownerID string) ([]*models.Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Survey
	for _, sv := range s.surveys {
		if sv.OwnerID == ownerID {
			out = append(out, sv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) InsertQuestion(_ context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := s.surveys[q.SurveyID]
	if sv == nil {
		return ErrSurveyNotFound
	}
	sv.Questions = append(sv.Questions, q)
	return nil
}

func (s *stubStore) ReorderQuestions(_ context.Context, surveyID string, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv := s.surveys[surveyID]
	for i, id := range order {
		if q := sv.Question(id); q != nil {
			q.Order = i
		}
	}
	return nil
}

type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	calls []string
}

func (l *keyedLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.calls = append(l.calls, key)
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

type countingObserver struct {
	accepted atomic.Int64
	mu       sync.Mutex
	rejected map[Reason]int
}

func (o *countingObserver) ResponseAccepted(string) { o.accepted.Add(1) }

func (o *countingObserver) ResponseRejected(r Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rejected == nil {
		o.rejected = map[Reason]int{}
	}
	o.rejected[r]++
}

func strp(s string) *string { return &s }
func nump(v float64) *float64 { return &v }

func openSurvey() *models.Survey {
	return &models.Survey{
		ID:               "S1",
		OwnerID:          "owner",
		Title:            "Satisfaction",
		IsActive:         true,
		AcceptsResponses: true,
		ShareToken:       "share-1",
		Questions: []*models.Question{
			{ID: "Q1", SurveyID: "S1", Type: models.Scale, Title: "Rate us", Required: true, Order: 0},
			{ID: "Q2", SurveyID: "S1", Type: models.MultipleChoice, Title: "Pick one", Options: []string{"A", "B"}, Order: 1},
			{ID: "Q3", SurveyID: "S1", Type: models.LongText, Title: "Comments", Order: 2},
		},
	}
}

func fixedService(store ResponseStore, locker SubmissionLocker) *ResponseService {
	svc := NewResponseService(store, locker)
	var seq atomic.Int64
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base.Add(time.Duration(seq.Load()) * time.Minute) }
	svc.idGen = func() string {
		n := seq.Add(1)
		return "ID" + itoa(int(n))
	}
	return svc
}

func TestSubmitPersistsResponseWithAnswers(t *testing.T) {
	store := newStubStore(openSurvey())
	locker := &keyedLocker{}
	obs := &countingObserver{}
	svc := fixedService(store, locker).WithObserver(obs)

	resp, err := svc.Submit(context.Background(), SubmitRequest{
		SurveyID:   "S1",
		Respondent: models.Respondent{Email: "a@example.com"},
		Answers: []*models.Answer{
			{QuestionID: "Q1", Number: nump(4)},
			{QuestionID: "Q2", Choice: strp("B")},
			{QuestionID: "Q3", Text: strp("   ")},
		},
		IPAddress: "10.0.0.1",
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if resp.SurveyID != "S1" || resp.RespondentEmail != "a@example.com" || resp.IPAddress != "10.0.0.1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Answers) != 2 {
		t.Fatalf("expected blank answer to be dropped, got %d answers", len(resp.Answers))
	}
	for _, a := range resp.Answers {
		if a.ResponseID != resp.ID || a.ID == "" {
			t.Fatalf("answer not linked to response: %+v", a)
		}
	}
	if resp.DedupeKey != "" {
		t.Fatalf("dedupe key must stay empty without limit-one, got %q", resp.DedupeKey)
	}
	if len(locker.calls) != 1 || locker.calls[0] != "survey:S1" {
		t.Fatalf("unexpected lock calls %v", locker.calls)
	}
	if obs.accepted.Load() != 1 {
		t.Fatalf("observer not notified")
	}
}

func TestSubmitByShareToken(t *testing.T) {
	store := newStubStore(openSurvey())
	svc := fixedService(store, nil)
	resp, err := svc.Submit(context.Background(), SubmitRequest{
		ShareToken: "share-1",
		Answers:    []*models.Answer{{QuestionID: "Q1", Text: strp("5")}},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if resp.SurveyID != "S1" {
		t.Fatalf("share token resolved to %q", resp.SurveyID)
	}
	if _, err := svc.Submit(context.Background(), SubmitRequest{ShareToken: "nope"}); !errors.Is(err, ErrSurveyNotFound) {
		t.Fatalf("expected survey not found, got %v", err)
	}
}

func TestSubmitRejectsWithoutWriting(t *testing.T) {
	sv := openSurvey()
	store := newStubStore(sv)
	obs := &countingObserver{}
	svc := fixedService(store, nil).WithObserver(obs)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		SurveyID: "S1",
		Answers: []*models.Answer{
			{QuestionID: "Q1", Number: nump(9)},
			{QuestionID: "Q2", Choice: strp("Z")},
		},
	})
	var ve ValidationErrors
	if !errors.As(err, &ve) || len(ve) != 2 {
		t.Fatalf("expected two validation errors, got %v", err)
	}
	if !errors.Is(err, ErrOutOfRange) || !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected out_of_range and invalid_option, got %v", err)
	}
	if store.inserts != 0 {
		t.Fatalf("nothing should be stored on rejection")
	}

	sv.IsActive = false
	if _, err := svc.Submit(context.Background(), SubmitRequest{SurveyID: "S1"}); !errors.Is(err, ErrSurveyInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	if obs.rejected[ReasonValidationFailed] != 1 || obs.rejected[ReasonSurveyInactive] != 1 {
		t.Fatalf("unexpected rejection counts %v", obs.rejected)
	}
}

func TestSubmitLimitOnePerRespondent(t *testing.T) {
	sv := openSurvey()
	sv.LimitOneResponsePerRespondent = true
	store := newStubStore(sv)
	svc := fixedService(store, nil)
	ctx := context.Background()
	answers := []*models.Answer{{QuestionID: "Q1", Number: nump(3)}}

	first, err := svc.Submit(ctx, SubmitRequest{SurveyID: "S1", Respondent: models.Respondent{Email: "Bob@Example.com"}, Answers: answers})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.DedupeKey != "email:bob@example.com" {
		t.Fatalf("unexpected dedupe key %q", first.DedupeKey)
	}
	_, err = svc.Submit(ctx, SubmitRequest{SurveyID: "S1", Respondent: models.Respondent{Email: "bob@example.com"}, Answers: answers})
	if !errors.Is(err, ErrDuplicateResponse) {
		t.Fatalf("expected duplicate response, got %v", err)
	}
	if _, err := svc.Submit(ctx, SubmitRequest{SurveyID: "S1", Respondent: models.Respondent{UserID: "u2"}, Answers: answers}); err != nil {
		t.Fatalf("other respondent should be accepted: %v", err)
	}
	// Anonymous respondents cannot be told apart.
	for i := 0; i < 2; i++ {
		if _, err := svc.Submit(ctx, SubmitRequest{SurveyID: "S1", Answers: answers}); err != nil {
			t.Fatalf("anonymous submit %d: %v", i, err)
		}
	}
	if store.inserts != 4 {
		t.Fatalf("expected 4 stored responses, got %d", store.inserts)
	}
}

func TestSubmitConcurrentRespectsMaxResponses(t *testing.T) {
	const limit = 5
	sv := openSurvey()
	sv.MaxResponses = limit
	store := newStubStore(sv)
	svc := NewResponseService(store, &keyedLocker{})

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		limited  atomic.Int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), SubmitRequest{
				SurveyID: "S1",
				Answers:  []*models.Answer{{QuestionID: "Q1", Number: nump(5)}},
			})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrResponseLimitReached):
				limited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != limit {
		t.Fatalf("expected exactly %d accepted, got %d", limit, accepted.Load())
	}
	if limited.Load() != 40-limit {
		t.Fatalf("expected %d limited, got %d", 40-limit, limited.Load())
	}
	if n, _ := store.CountResponses(context.Background(), "S1"); n != limit {
		t.Fatalf("stored %d responses", n)
	}
}

func TestSubmitConcurrentSameRespondent(t *testing.T) {
	sv := openSurvey()
	sv.LimitOneResponsePerRespondent = true
	store := newStubStore(sv)
	svc := NewResponseService(store, nil)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), SubmitRequest{
				SurveyID:   "S1",
				Respondent: models.Respondent{UserID: "same"},
				Answers:    []*models.Answer{{QuestionID: "Q1", Number: nump(2)}},
			})
			if err == nil {
				accepted.Add(1)
			} else if !errors.Is(err, ErrDuplicateResponse) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted.Load() != 1 {
		t.Fatalf("expected one accepted response, got %d", accepted.Load())
	}
}

func TestResponseAccessControl(t *testing.T) {
	ctx := context.Background()
	store := newStubStore(openSurvey())
	svc := fixedService(store, nil)
	resp, err := svc.Submit(ctx, SubmitRequest{
		SurveyID:   "S1",
		Respondent: models.Respondent{UserID: "resp-user"},
		Answers:    []*models.Answer{{QuestionID: "Q1", Number: nump(1)}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.GetResponse(ctx, "owner", resp.ID); err != nil {
		t.Fatalf("owner should read response: %v", err)
	}
	if _, err := svc.GetResponse(ctx, "resp-user", resp.ID); err != nil {
		t.Fatalf("respondent should read response: %v", err)
	}
	if _, err := svc.GetResponse(ctx, "stranger", resp.ID); err == nil {
		t.Fatalf("stranger must not read response")
	}
	if _, err := svc.GetResponse(ctx, "owner", "missing"); err == nil {
		t.Fatalf("expected not found")
	}
	if _, err := svc.ListResponses(ctx, "resp-user", "S1"); err == nil {
		t.Fatalf("only the owner lists responses")
	}
	list, err := svc.ListResponses(ctx, "owner", "S1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	err = svc.DeleteResponse(ctx, "stranger", resp.ID)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := svc.DeleteResponse(ctx, "resp-user", resp.ID); err != nil {
		t.Fatalf("respondent delete: %v", err)
	}
	if n, _ := store.CountResponses(ctx, "S1"); n != 0 {
		t.Fatalf("response not deleted")
	}
}

func TestSubmitThenAggregateScenario(t *testing.T) {
	ctx := context.Background()
	store := newStubStore(openSurvey())
	svc := fixedService(store, nil)
	stats := NewStatisticsService(store)

	inputs := []struct {
		rating  float64
		choice  string
		comment string
	}{
		{5, "A", "great"},
		{4, "B", "ok"},
		{5, "A", "would return"},
	}
	for _, in := range inputs {
		_, err := svc.Submit(ctx, SubmitRequest{SurveyID: "S1", Answers: []*models.Answer{
			{QuestionID: "Q1", Number: nump(in.rating)},
			{QuestionID: "Q2", Choice: strp(in.choice)},
			{QuestionID: "Q3", Text: strp(in.comment)},
		}})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	served := 0
	stats.OnRequest(func(string) { served++ })
	report, err := stats.GetStatistics(ctx, "owner", "S1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if report.TotalResponses != 3 || served != 1 {
		t.Fatalf("unexpected totals %d served=%d", report.TotalResponses, served)
	}
	q1 := report.Question("Q1")
	if q1.Average == nil || *q1.Average != 4.67 {
		t.Fatalf("expected average 4.67, got %v", q1.Average)
	}
	q2 := report.Question("Q2")
	if q2.Distribution.Get("A") != 2 || q2.Distribution.Get("B") != 1 {
		t.Fatalf("unexpected distribution %v", q2.Distribution)
	}
	q3 := report.Question("Q3")
	if len(q3.Answers) != 3 || q3.Answers[0] != "great" {
		t.Fatalf("unexpected text answers %v", q3.Answers)
	}

	if _, err := stats.GetStatistics(ctx, "someone", "S1"); err == nil {
		t.Fatalf("non-owner must not read statistics")
	}
	if _, err := stats.GetStatistics(ctx, "owner", "missing"); !errors.Is(err, ErrSurveyNotFound) {
		t.Fatalf("expected survey not found, got %v", err)
	}
}
