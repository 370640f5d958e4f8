package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

const anonymousRespondent = "Anonymous"

// ExportResponsesCSV renders one row per response with one column per
// question, in question order.
func ExportResponsesCSV(sv *models.Survey, responses []*models.Response) ([]byte, error) {
	questions := sv.OrderedQuestions()
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := []string{"Response ID", "Submitted At", "Respondent"}
	for _, q := range questions {
		header = append(header, q.Title)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range submissionOrder(responses) {
		byQuestion := make(map[string]*models.Answer, len(r.Answers))
		for _, a := range r.Answers {
			byQuestion[a.QuestionID] = a
		}
		rec := make([]string, 0, len(header))
		rec = append(rec, r.ID, r.SubmittedAt.UTC().Format(time.RFC3339), respondentLabel(r))
		for _, q := range questions {
			rec = append(rec, AnswerString(byQuestion[q.ID]))
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportQuestionsCSV renders the question definitions of a survey.
func ExportQuestionsCSV(sv *models.Survey) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"question_id", "position", "type", "required", "title", "options", "min", "max"})
	for _, q := range sv.OrderedQuestions() {
		rec := []string{
			q.ID,
			itoa(q.Order),
			string(q.Type),
			strconv.FormatBool(q.Required),
			q.Title,
			strings.Join(q.Options, " | "),
			itoa(q.Min),
			itoa(q.Max),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// AnswerString flattens whichever slot an answer carries into a cell value.
func AnswerString(a *models.Answer) string {
	if a == nil {
		return ""
	}
	switch {
	case a.Text != nil:
		return *a.Text
	case a.Number != nil:
		return strconv.FormatFloat(*a.Number, 'f', -1, 64)
	case a.Choice != nil:
		return *a.Choice
	case len(a.Choices) > 0:
		return strings.Join(a.Choices, "; ")
	case a.FileRef != nil:
		return *a.FileRef
	}
	return ""
}

func respondentLabel(r *models.Response) string {
	if r.RespondentEmail != "" {
		return r.RespondentEmail
	}
	if r.RespondentID != "" {
		return r.RespondentID
	}
	return anonymousRespondent
}

func submissionOrder(rs []*models.Response) []*models.Response {
	out := append([]*models.Response(nil), rs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

func itoa(i int) string {
	// local small int->string; counts and positions only
	if i == 0 {
		return "0"
	}
	neg := false
	if i < 0 {
		neg = true
		i = -i
	}
	var b [20]byte
	bp := len(b)
	for i > 0 {
		bp--
		b[bp] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		bp--
		b[bp] = '-'
	}
	return string(b[bp:])
}
