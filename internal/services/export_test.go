package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

func readCSV(b []byte) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(string(b)))
	return r.ReadAll()
}

func exportFixture() (*models.Survey, []*models.Response) {
	sv := &models.Survey{
		ID:      "S9",
		OwnerID: "owner",
		Title:   "Export",
		Questions: []*models.Question{
			{ID: "b", Type: models.Checkbox, Title: "Tags", Options: []string{"x", "y"}, Order: 1},
			{ID: "a", Type: models.Scale, Title: "Score, overall", Order: 0},
		},
	}
	rs := []*models.Response{
		{ID: "R2", SurveyID: "S9", SubmittedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Answers: []*models.Answer{
			{QuestionID: "a", Number: nump(3)},
		}},
		{ID: "R1", SurveyID: "S9", RespondentEmail: "r@example.com", SubmittedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Answers: []*models.Answer{
			{QuestionID: "a", Number: nump(4.5)},
			{QuestionID: "b", Choices: []string{"x", "y"}},
		}},
	}
	return sv, rs
}

func TestExportResponsesCSV(t *testing.T) {
	sv, rs := exportFixture()
	b, err := ExportResponsesCSV(sv, rs)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	recs, err := readCSV(b)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("want 3 rows, got %d", len(recs))
	}
	if got := strings.Join(recs[0], "|"); got != "Response ID|Submitted At|Respondent|Score, overall|Tags" {
		t.Fatalf("bad header: %s", got)
	}
	if got := strings.Join(recs[1], "|"); got != "R1|2025-01-01T00:00:00Z|r@example.com|4.5|x; y" {
		t.Fatalf("bad first row: %s", got)
	}
	if recs[2][2] != "Anonymous" || recs[2][4] != "" {
		t.Fatalf("bad second row: %v", recs[2])
	}
}

func TestExportQuestionsCSV(t *testing.T) {
	sv, _ := exportFixture()
	b, err := ExportQuestionsCSV(sv)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	recs, err := readCSV(b)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 3 || recs[1][0] != "a" || recs[2][5] != "x | y" {
		t.Fatalf("unexpected rows %v", recs)
	}
}

func TestExportServiceFormats(t *testing.T) {
	ctx := context.Background()
	sv, rs := exportFixture()
	store := newStubStore(sv)
	store.responses = rs
	svc := NewExportService(store)

	res, err := svc.Export(ctx, ExportParams{OwnerID: "owner", SurveyID: "S9"})
	if err != nil {
		t.Fatalf("csv export: %v", err)
	}
	if res.Filename != "survey_S9_responses.csv" || !strings.HasPrefix(res.ContentType, "text/csv") {
		t.Fatalf("unexpected csv result %s %s", res.Filename, res.ContentType)
	}

	res, err = svc.Export(ctx, ExportParams{OwnerID: "owner", SurveyID: "S9", Format: "json"})
	if err != nil {
		t.Fatalf("json export: %v", err)
	}
	var doc struct {
		Survey struct {
			ID        string `json:"id"`
			Questions []struct {
				ID string `json:"id"`
			} `json:"questions"`
		} `json:"survey"`
		Responses []struct {
			ID      string `json:"id"`
			Answers []struct {
				Question string `json:"question"`
				Answer   any    `json:"answer"`
			} `json:"answers"`
		} `json:"responses"`
	}
	if err := json.Unmarshal(res.Data, &doc); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if doc.Survey.ID != "S9" || len(doc.Survey.Questions) != 2 || doc.Survey.Questions[0].ID != "a" {
		t.Fatalf("unexpected survey block %+v", doc.Survey)
	}
	if len(doc.Responses) != 2 || doc.Responses[0].ID != "R1" || doc.Responses[0].Answers[0].Question != "Score, overall" {
		t.Fatalf("unexpected responses %+v", doc.Responses)
	}

	res, err = svc.Export(ctx, ExportParams{OwnerID: "owner", SurveyID: "S9", Format: "questions"})
	if err != nil || res.Filename != "survey_S9_questions.csv" {
		t.Fatalf("questions export: %v", err)
	}

	if _, err := svc.Export(ctx, ExportParams{OwnerID: "owner", SurveyID: "S9", Format: "xml"}); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if _, err := svc.Export(ctx, ExportParams{OwnerID: "other", SurveyID: "S9"}); err == nil {
		t.Fatalf("expected forbidden for non-owner")
	}
}
