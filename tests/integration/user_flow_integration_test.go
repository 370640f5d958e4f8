//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("SURVEY_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:8080"
}

func TestSurveyJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	email := fmt.Sprintf("integration_%d@example.com", time.Now().UnixNano())
	password := "Secret123!"

	var registerResp struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/auth/register", "", map[string]string{
		"email":    email,
		"password": password,
	}, &registerResp)
	if registerResp.Token == "" || registerResp.UserID == "" {
		t.Fatalf("unexpected register response: %+v", registerResp)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &loginResp)
	token := loginResp.Token
	if token == "" {
		t.Fatalf("login did not return token")
	}

	var survey struct {
		ID         string `json:"id"`
		ShareToken string `json:"share_token"`
		Questions  []struct {
			ID string `json:"id"`
		} `json:"questions"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/surveys", token, map[string]any{
		"title":              "Integration Survey",
		"limit_one_response": true,
		"questions": []map[string]any{
			{"type": "scale", "title": "Satisfaction", "required": true},
			{"type": "multiple_choice", "title": "Channel", "options": []string{"web", "app"}},
		},
	}, &survey)
	if survey.ID == "" || survey.ShareToken == "" || len(survey.Questions) != 2 {
		t.Fatalf("unexpected survey: %+v", survey)
	}

	for i, choice := range []string{"web", "app", "web"} {
		doJSON(t, client, http.MethodPost, base+"/api/share/"+survey.ShareToken+"/responses", "", map[string]any{
			"email": fmt.Sprintf("r%d_%s", i, email),
			"answers": []map[string]any{
				{"question_id": survey.Questions[0].ID, "number": 3 + i},
				{"question_id": survey.Questions[1].ID, "choice": choice},
			},
		}, nil)
	}

	var stats struct {
		TotalResponses int `json:"total_responses"`
		Questions      []struct {
			Average      *float64       `json:"average"`
			Distribution map[string]int `json:"distribution"`
		} `json:"questions"`
	}
	doJSON(t, client, http.MethodGet, base+"/api/surveys/"+survey.ID+"/statistics", token, nil, &stats)
	if stats.TotalResponses != 3 || stats.Questions[0].Average == nil || *stats.Questions[0].Average != 4 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if stats.Questions[1].Distribution["web"] != 2 || stats.Questions[1].Distribution["app"] != 1 {
		t.Fatalf("unexpected distribution: %+v", stats.Questions[1].Distribution)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/surveys/"+survey.ID+"/export?format=csv", nil)
	if err != nil {
		t.Fatalf("new export request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export returned status %d", resp.StatusCode)
	}
	csvData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export data: %v", err)
	}
	if !strings.Contains(string(csvData), "Satisfaction") {
		t.Fatalf("export csv missing question header; csv=%s", csvData)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any, out any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http %s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
