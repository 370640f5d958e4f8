package api

import (
	"net/http"

	"github.com/ckdtjq0011/saas-survey/internal/middleware"
	"github.com/ckdtjq0011/saas-survey/internal/models"
	"github.com/ckdtjq0011/saas-survey/internal/services"
)

// answerRequest carries one typed value; exactly one slot should be set.
type answerRequest struct {
	QuestionID string   `json:"question_id" validate:"required"`
	Text       *string  `json:"text"`
	Number     *float64 `json:"number"`
	Choice     *string  `json:"choice"`
	Choices    []string `json:"choices"`
	FileRef    *string  `json:"file_ref"`
}

type submitRequest struct {
	Email   string          `json:"email" validate:"omitempty,email"`
	Answers []answerRequest `json:"answers" validate:"dive"`
}

func (s submitRequest) answers() []*models.Answer {
	out := make([]*models.Answer, 0, len(s.Answers))
	for _, a := range s.Answers {
		out = append(out, &models.Answer{
			QuestionID: a.QuestionID,
			Text:       a.Text,
			Number:     a.Number,
			Choice:     a.Choice,
			Choices:    a.Choices,
			FileRef:    a.FileRef,
		})
	}
	return out
}

// POST /api/surveys/{id}/responses and POST /api/share/{token}/responses
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	respondent := models.Respondent{Email: req.Email}
	if c, ok := middleware.ClaimsFromContext(r.Context()); ok {
		respondent.UserID = c.UID
		if c.Email != "" {
			respondent.Email = c.Email
		}
	}
	resp, err := rt.responses.Submit(r.Context(), services.SubmitRequest{
		SurveyID:   r.PathValue("id"),
		ShareToken: r.PathValue("token"),
		Respondent: respondent,
		Answers:    req.answers(),
		IPAddress:  clientIP(r, rt.trustProxy),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GET /api/surveys/{id}/responses
func (rt *Router) handleListResponses(w http.ResponseWriter, r *http.Request) {
	list, err := rt.responses.ListResponses(r.Context(), currentUser(r), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Response{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": list, "count": len(list)})
}

// GET /api/responses/{id}
func (rt *Router) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := rt.responses.GetResponse(r.Context(), currentUser(r), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DELETE /api/responses/{id}
func (rt *Router) handleDeleteResponse(w http.ResponseWriter, r *http.Request) {
	if err := rt.responses.DeleteResponse(r.Context(), currentUser(r), r.PathValue("id")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/surveys/{id}/statistics
func (rt *Router) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.stats.GetStatistics(r.Context(), currentUser(r), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /api/surveys/{id}/export?format=csv|json|questions
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := rt.exports.Export(r.Context(), services.ExportParams{
		OwnerID:  currentUser(r),
		SurveyID: r.PathValue("id"),
		Format:   r.URL.Query().Get("format"),
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}
