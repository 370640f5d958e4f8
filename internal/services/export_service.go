package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

type ExportStore interface {
	SurveyReader
	ResponseLister
}

type ExportParams struct {
	OwnerID  string
	SurveyID string
	Format   string
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ExportService struct {
	store ExportStore
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store}
}

type exportQuestion struct {
	ID       string              `json:"id"`
	Title    string              `json:"title"`
	Type     models.QuestionType `json:"type"`
	Required bool                `json:"required"`
	Options  []string            `json:"options,omitempty"`
	Order    int                 `json:"order"`
}

type exportAnswer struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Answer     any    `json:"answer"`
}

type exportResponse struct {
	ID          string         `json:"id"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Respondent  string         `json:"respondent"`
	Answers     []exportAnswer `json:"answers"`
}

type exportDocument struct {
	Survey struct {
		ID          string           `json:"id"`
		Title       string           `json:"title"`
		Description string           `json:"description,omitempty"`
		CreatedAt   time.Time        `json:"created_at"`
		Questions   []exportQuestion `json:"questions"`
	} `json:"survey"`
	Responses []exportResponse `json:"responses"`
}

// Export renders a survey's responses as csv, json or a questions csv.
func (s *ExportService) Export(ctx context.Context, params ExportParams) (*ExportResult, error) {
	if params.SurveyID == "" {
		return nil, NewInvalidError("survey_id required")
	}
	format := params.Format
	if format == "" {
		format = "csv"
	}
	sv, err := loadOwnedSurvey(ctx, s.store, params.OwnerID, params.SurveyID)
	if err != nil {
		return nil, err
	}
	prefix := "survey_" + sv.ID
	switch format {
	case "questions":
		b, err := ExportQuestionsCSV(sv)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: prefix + "_questions.csv", ContentType: "text/csv; charset=utf-8", Data: b}, nil
	case "csv", "json":
	default:
		return nil, NewInvalidError("unsupported format")
	}

	rs, err := s.store.ListResponses(ctx, sv.ID)
	if err != nil {
		return nil, err
	}
	if format == "csv" {
		b, err := ExportResponsesCSV(sv, rs)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: prefix + "_responses.csv", ContentType: "text/csv; charset=utf-8", Data: b}, nil
	}
	b, err := json.MarshalIndent(buildExportDocument(sv, rs), "", "  ")
	if err != nil {
		return nil, err
	}
	return &ExportResult{Filename: prefix + "_responses.json", ContentType: "application/json", Data: b}, nil
}

func buildExportDocument(sv *models.Survey, rs []*models.Response) exportDocument {
	var doc exportDocument
	doc.Survey.ID = sv.ID
	doc.Survey.Title = sv.Title
	doc.Survey.Description = sv.Description
	doc.Survey.CreatedAt = sv.CreatedAt
	titles := map[string]string{}
	doc.Survey.Questions = []exportQuestion{}
	for _, q := range sv.OrderedQuestions() {
		titles[q.ID] = q.Title
		doc.Survey.Questions = append(doc.Survey.Questions, exportQuestion{
			ID: q.ID, Title: q.Title, Type: q.Type, Required: q.Required, Options: q.Options, Order: q.Order,
		})
	}
	doc.Responses = []exportResponse{}
	for _, r := range submissionOrder(rs) {
		er := exportResponse{ID: r.ID, SubmittedAt: r.SubmittedAt, Respondent: respondentLabel(r), Answers: []exportAnswer{}}
		for _, a := range r.Answers {
			er.Answers = append(er.Answers, exportAnswer{QuestionID: a.QuestionID, Question: titles[a.QuestionID], Answer: answerValue(a)})
		}
		doc.Responses = append(doc.Responses, er)
	}
	return doc
}

func answerValue(a *models.Answer) any {
	switch {
	case a.Number != nil:
		return *a.Number
	case len(a.Choices) > 0:
		return a.Choices
	default:
		return AnswerString(a)
	}
}
