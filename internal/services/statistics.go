package services

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

// StatKind selects which summary a question gets.
type StatKind string

const (
	KindNumeric StatKind = "numeric"
	KindChoice  StatKind = "choice"
	KindText    StatKind = "text"
)

func kindOf(t models.QuestionType) StatKind {
	switch {
	case t.IsNumeric():
		return KindNumeric
	case t.IsChoice():
		return KindChoice
	default:
		return KindText
	}
}

// DistributionEntry is one bucket of a choice distribution.
type DistributionEntry struct {
	Value string
	Count int
}

// Distribution keeps buckets in order of first occurrence and encodes as a
// JSON object with that key order.
type Distribution []DistributionEntry

// Get returns the count for value, zero if it was never selected.
func (d Distribution) Get(value string) int {
	for _, e := range d {
		if e.Value == value {
			return e.Count
		}
	}
	return 0
}

// Map flattens the distribution, losing order.
func (d Distribution) Map() map[string]int {
	out := make(map[string]int, len(d))
	for _, e := range d {
		out[e.Value] = e.Count
	}
	return out
}

// MarshalJSON encodes the buckets as an object in first-seen order.
func (d Distribution) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.WriteString(itoa(e.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// QuestionStatistics summarizes the answers to one question. Which fields are
// meaningful depends on Kind.
type QuestionStatistics struct {
	QuestionID string
	Title      string
	Type       models.QuestionType
	Required   bool
	Kind       StatKind
	Count      int

	// numeric; nil when Count is zero
	Average *float64
	Min     *float64
	Max     *float64

	// choice
	Distribution Distribution

	// text, in submission order
	Answers []string
}

// MarshalJSON emits the common fields plus only the block that matches Kind.
func (s QuestionStatistics) MarshalJSON() ([]byte, error) {
	type base struct {
		QuestionID string              `json:"question_id"`
		Title      string              `json:"title"`
		Type       models.QuestionType `json:"type"`
		Required   bool                `json:"required"`
		Count      int                 `json:"count"`
	}
	b := base{QuestionID: s.QuestionID, Title: s.Title, Type: s.Type, Required: s.Required, Count: s.Count}
	switch s.Kind {
	case KindNumeric:
		return json.Marshal(struct {
			base
			Average *float64 `json:"average"`
			Min     *float64 `json:"min"`
			Max     *float64 `json:"max"`
		}{b, s.Average, s.Min, s.Max})
	case KindChoice:
		dist := s.Distribution
		if dist == nil {
			dist = Distribution{}
		}
		return json.Marshal(struct {
			base
			Distribution Distribution `json:"distribution"`
		}{b, dist})
	default:
		answers := s.Answers
		if answers == nil {
			answers = []string{}
		}
		return json.Marshal(struct {
			base
			Answers []string `json:"answers"`
		}{b, answers})
	}
}

// SurveyStatistics is the per-question report for a survey.
type SurveyStatistics struct {
	SurveyID       string               `json:"survey_id"`
	Title          string               `json:"title"`
	TotalResponses int                  `json:"total_responses"`
	LastResponseAt *time.Time           `json:"last_response_at"`
	Questions      []QuestionStatistics `json:"questions"`
}

// Clone returns a deep copy of the report.
func (s *SurveyStatistics) Clone() *SurveyStatistics {
	if s == nil {
		return nil
	}
	out := *s
	if s.LastResponseAt != nil {
		t := *s.LastResponseAt
		out.LastResponseAt = &t
	}
	if s.Questions != nil {
		out.Questions = make([]QuestionStatistics, len(s.Questions))
		for i, q := range s.Questions {
			q.Average = cloneFloat(q.Average)
			q.Min = cloneFloat(q.Min)
			q.Max = cloneFloat(q.Max)
			if q.Distribution != nil {
				q.Distribution = append(Distribution(nil), q.Distribution...)
			}
			if q.Answers != nil {
				q.Answers = append([]string(nil), q.Answers...)
			}
			out.Questions[i] = q
		}
	}
	return &out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Question returns the statistics for questionID, or nil.
func (s *SurveyStatistics) Question(questionID string) *QuestionStatistics {
	for i := range s.Questions {
		if s.Questions[i].QuestionID == questionID {
			return &s.Questions[i]
		}
	}
	return nil
}

// Aggregate folds all responses into per-question statistics, one entry per
// question in order. Answers that cannot be read as their question's type are
// left out of the summary rather than failing the report.
func Aggregate(survey *models.Survey, responses []*models.Response) (*SurveyStatistics, error) {
	if survey == nil {
		return nil, ErrSurveyNotFound
	}

	ordered := append([]*models.Response(nil), responses...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt) })

	questions := survey.OrderedQuestions()
	accs := make(map[string]*accumulator, len(questions))
	for _, q := range questions {
		accs[q.ID] = &accumulator{kind: kindOf(q.Type)}
	}

	var last *time.Time
	for _, r := range ordered {
		if r == nil {
			continue
		}
		at := r.SubmittedAt
		last = &at
		for _, a := range r.Answers {
			if a == nil {
				continue
			}
			if acc := accs[a.QuestionID]; acc != nil {
				acc.add(a)
			}
		}
	}

	stats := &SurveyStatistics{
		SurveyID:       survey.ID,
		Title:          survey.Title,
		TotalResponses: countResponses(ordered),
		LastResponseAt: last,
		Questions:      make([]QuestionStatistics, 0, len(questions)),
	}
	for _, q := range questions {
		stats.Questions = append(stats.Questions, accs[q.ID].summary(q))
	}
	return stats, nil
}

func countResponses(rs []*models.Response) int {
	n := 0
	for _, r := range rs {
		if r != nil {
			n++
		}
	}
	return n
}

type accumulator struct {
	kind StatKind

	n        int
	sum      float64
	min, max float64

	buckets Distribution
	index   map[string]int

	texts []string
}

func (acc *accumulator) add(a *models.Answer) {
	switch acc.kind {
	case KindNumeric:
		v, ok := storedNumber(a)
		if !ok {
			return
		}
		if acc.n == 0 || v < acc.min {
			acc.min = v
		}
		if acc.n == 0 || v > acc.max {
			acc.max = v
		}
		acc.n++
		acc.sum += v
	case KindChoice:
		selected := false
		for _, c := range storedChoices(a) {
			acc.bump(c)
			selected = true
		}
		if selected {
			acc.n++
		}
	default:
		if s, ok := storedText(a); ok {
			acc.texts = append(acc.texts, s)
			acc.n++
		}
	}
}

func (acc *accumulator) bump(value string) {
	if acc.index == nil {
		acc.index = map[string]int{}
	}
	if i, ok := acc.index[value]; ok {
		acc.buckets[i].Count++
		return
	}
	acc.index[value] = len(acc.buckets)
	acc.buckets = append(acc.buckets, DistributionEntry{Value: value, Count: 1})
}

func (acc *accumulator) summary(q *models.Question) QuestionStatistics {
	out := QuestionStatistics{
		QuestionID: q.ID,
		Title:      q.Title,
		Type:       q.Type,
		Required:   q.Required,
		Kind:       acc.kind,
		Count:      acc.n,
	}
	switch acc.kind {
	case KindNumeric:
		if acc.n > 0 {
			avg := round2(acc.sum / float64(acc.n))
			lo, hi := acc.min, acc.max
			out.Average, out.Min, out.Max = &avg, &lo, &hi
		}
	case KindChoice:
		out.Distribution = append(Distribution{}, acc.buckets...)
	default:
		out.Answers = append([]string{}, acc.texts...)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func storedNumber(a *models.Answer) (float64, bool) {
	if a.Number != nil {
		if math.IsNaN(*a.Number) || math.IsInf(*a.Number, 0) {
			return 0, false
		}
		return *a.Number, true
	}
	if a.Text != nil {
		return parseNumber(*a.Text)
	}
	return 0, false
}

// storedChoices reads choice values from whichever slot holds them; older
// rows may carry a single choice in the text slot.
func storedChoices(a *models.Answer) []string {
	var out []string
	for _, c := range a.Choices {
		if c != "" {
			out = append(out, c)
		}
	}
	if a.Choice != nil && *a.Choice != "" {
		out = append(out, *a.Choice)
	}
	if len(out) == 0 && a.Text != nil && strings.TrimSpace(*a.Text) != "" {
		out = append(out, *a.Text)
	}
	return out
}

func storedText(a *models.Answer) (string, bool) {
	if a.Text != nil && strings.TrimSpace(*a.Text) != "" {
		return *a.Text, true
	}
	if a.FileRef != nil && *a.FileRef != "" {
		return *a.FileRef, true
	}
	return "", false
}
