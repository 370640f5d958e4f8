package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
	"github.com/ckdtjq0011/saas-survey/internal/services"
)

type memoryStore struct {
	mu           sync.RWMutex
	surveys      map[string]*models.Survey
	responses    []*models.Response
	usersByEmail map[string]*models.User
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		surveys:      map[string]*models.Survey{},
		responses:    []*models.Response{},
		usersByEmail: map[string]*models.User{},
	}
}

// NewMemoryStore returns a process-local Store. Values are copied in and out,
// so callers never share memory with the store.
func NewMemoryStore() Store {
	return newMemoryStore()
}

func cloneSurvey(sv *models.Survey) *models.Survey {
	if sv == nil {
		return nil
	}
	cp := *sv
	if sv.Deadline != nil {
		d := *sv.Deadline
		cp.Deadline = &d
	}
	cp.Questions = make([]*models.Question, 0, len(sv.Questions))
	for _, q := range sv.Questions {
		qc := *q
		qc.Options = append([]string(nil), q.Options...)
		cp.Questions = append(cp.Questions, &qc)
	}
	return &cp
}

func cloneResponse(r *models.Response) *models.Response {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Answers = make([]*models.Answer, 0, len(r.Answers))
	for _, a := range r.Answers {
		ac := *a
		ac.Choices = append([]string(nil), a.Choices...)
		cp.Answers = append(cp.Answers, &ac)
	}
	return &cp
}

// --- Users ---

func (s *memoryStore) InsertUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.usersByEmail[key]; ok {
		return services.NewConflictError("email exists")
	}
	cp := *u
	s.usersByEmail[key] = &cp
	return nil
}

func (s *memoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// --- Surveys ---

func (s *memoryStore) InsertSurvey(_ context.Context, sv *models.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.surveys[sv.ID]; ok {
		return services.NewConflictError("survey exists")
	}
	s.surveys[sv.ID] = cloneSurvey(sv)
	return nil
}

func (s *memoryStore) UpdateSurvey(_ context.Context, sv *models.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.surveys[sv.ID]
	if !ok {
		return services.ErrSurveyNotFound
	}
	next := cloneSurvey(sv)
	// questions are managed through InsertQuestion and ReorderQuestions
	next.Questions = cur.Questions
	next.ShareToken = cur.ShareToken
	s.surveys[sv.ID] = next
	return nil
}

func (s *memoryStore) DeleteSurvey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.surveys[id]; !ok {
		return services.ErrSurveyNotFound
	}
	delete(s.surveys, id)
	kept := make([]*models.Response, 0, len(s.responses))
	for _, r := range s.responses {
		if r.SurveyID != id {
			kept = append(kept, r)
		}
	}
	s.responses = kept
	return nil
}

func (s *memoryStore) GetSurvey(_ context.Context, id string) (*models.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSurvey(s.surveys[id]), nil
}

func (s *memoryStore) GetSurveyByShareToken(_ context.Context, token string) (*models.Survey, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sv := range s.surveys {
		if sv.ShareToken == token {
			return cloneSurvey(sv), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) ListSurveysByOwner(_ context.Context, ownerID string) ([]*models.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Survey{}
	for _, sv := range s.surveys {
		if sv.OwnerID == ownerID {
			out = append(out, cloneSurvey(sv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryStore) InsertQuestion(_ context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.surveys[q.SurveyID]
	if !ok {
		return services.ErrSurveyNotFound
	}
	qc := *q
	qc.Options = append([]string(nil), q.Options...)
	sv.Questions = append(sv.Questions, &qc)
	return nil
}

func (s *memoryStore) ReorderQuestions(_ context.Context, surveyID string, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.surveys[surveyID]
	if !ok {
		return services.ErrSurveyNotFound
	}
	for pos, id := range order {
		if q := sv.Question(id); q != nil {
			q.Order = pos
		}
	}
	return nil
}

// --- Responses ---

func (s *memoryStore) CountResponses(_ context.Context, surveyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(surveyID), nil
}

func (s *memoryStore) countLocked(surveyID string) int {
	n := 0
	for _, r := range s.responses {
		if r.SurveyID == surveyID {
			n++
		}
	}
	return n
}

func (s *memoryStore) FindResponseByRespondent(_ context.Context, surveyID, key string) (*models.Response, error) {
	if key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.responses {
		if r.SurveyID == surveyID && r.Respondent().Key() == key {
			return cloneResponse(r), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) InsertResponse(_ context.Context, r *models.Response, maxResponses int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.surveys[r.SurveyID]; !ok {
		return services.ErrSurveyNotFound
	}
	if maxResponses > 0 && s.countLocked(r.SurveyID) >= maxResponses {
		return services.ErrResponseLimitReached
	}
	if r.DedupeKey != "" {
		for _, existing := range s.responses {
			if existing.SurveyID == r.SurveyID && existing.DedupeKey == r.DedupeKey {
				return services.ErrDuplicateResponse
			}
		}
	}
	s.responses = append(s.responses, cloneResponse(r))
	return nil
}

func (s *memoryStore) GetResponse(_ context.Context, id string) (*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.responses {
		if r.ID == id {
			return cloneResponse(r), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) ListResponses(_ context.Context, surveyID string) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Response{}
	for _, r := range s.responses {
		if r.SurveyID == surveyID {
			out = append(out, cloneResponse(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *memoryStore) DeleteResponse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.responses {
		if r.ID == id {
			s.responses = append(s.responses[:i], s.responses[i+1:]...)
			return nil
		}
	}
	return services.NewNotFoundError("response not found")
}

// --- Snapshots ---

// Snapshot is the contents of an in-memory store, used to keep data across
// restarts without SQLite and to import it into SQLite later.
type Snapshot struct {
	Users     []*models.User
	Surveys   []*models.Survey
	Responses []*models.Response
}

type snapshotUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	PassHash  []byte    `json:"pass_hash"`
	CreatedAt time.Time `json:"created_at"`
}

type snapshotResponse struct {
	*models.Response
	DedupeKey string `json:"dedupe_key,omitempty"`
}

type snapshotFile struct {
	Users     []snapshotUser     `json:"users"`
	Surveys   []*models.Survey   `json:"surveys"`
	Responses []snapshotResponse `json:"responses"`
}

// MemoryStoreSnapshot captures the current contents of a store created by
// NewMemoryStore. It returns nil for any other Store.
func MemoryStoreSnapshot(st Store) *Snapshot {
	s, ok := st.(*memoryStore)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{}
	for _, u := range s.usersByEmail {
		cp := *u
		snap.Users = append(snap.Users, &cp)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].Email < snap.Users[j].Email })
	for _, sv := range s.surveys {
		snap.Surveys = append(snap.Surveys, cloneSurvey(sv))
	}
	sort.Slice(snap.Surveys, func(i, j int) bool { return snap.Surveys[i].ID < snap.Surveys[j].ID })
	for _, r := range s.responses {
		snap.Responses = append(snap.Responses, cloneResponse(r))
	}
	return snap
}

// SaveSnapshot writes the store contents to path as JSON.
func SaveSnapshot(st Store, path string) error {
	snap := MemoryStoreSnapshot(st)
	if snap == nil {
		return errors.New("snapshot: not a memory store")
	}
	file := snapshotFile{Users: []snapshotUser{}, Surveys: snap.Surveys, Responses: []snapshotResponse{}}
	for _, u := range snap.Users {
		file.Users = append(file.Users, snapshotUser{ID: u.ID, Email: u.Email, PassHash: u.PassHash, CreatedAt: u.CreatedAt})
	}
	for _, r := range snap.Responses {
		file.Responses = append(file.Responses, snapshotResponse{Response: r, DedupeKey: r.DedupeKey})
	}
	b, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// NewMemoryStoreFromPath loads a snapshot written by SaveSnapshot. A missing
// file yields an error matching os.ErrNotExist.
func NewMemoryStoreFromPath(path string) (Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file snapshotFile
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s := newMemoryStore()
	for _, u := range file.Users {
		s.usersByEmail[strings.ToLower(u.Email)] = &models.User{ID: u.ID, Email: u.Email, PassHash: u.PassHash, CreatedAt: u.CreatedAt}
	}
	for _, sv := range file.Surveys {
		if sv != nil {
			s.surveys[sv.ID] = sv
		}
	}
	for _, r := range file.Responses {
		if r.Response == nil {
			continue
		}
		r.Response.DedupeKey = r.DedupeKey
		s.responses = append(s.responses, r.Response)
	}
	return s, nil
}
