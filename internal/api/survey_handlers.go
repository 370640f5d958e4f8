package api

import (
	"net/http"
	"time"

	"github.com/ckdtjq0011/saas-survey/internal/models"
	"github.com/ckdtjq0011/saas-survey/internal/services"
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresIn int64  `json:"expires_in"`
}

// POST /api/auth/register
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if len(req.Password) < 8 {
		rt.writeError(w, r, services.NewInvalidError("password must be at least 8 characters"))
		return
	}
	res, err := rt.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: res.Token, UserID: res.UserID, ExpiresIn: int64(rt.auth.TokenTTL().Seconds())})
}

// POST /api/auth/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	res, err := rt.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: res.Token, UserID: res.UserID, ExpiresIn: int64(rt.auth.TokenTTL().Seconds())})
}

type questionRequest struct {
	Type     string   `json:"type" validate:"required"`
	Title    string   `json:"title" validate:"required,max=500"`
	Required bool     `json:"required"`
	Options  []string `json:"options" validate:"omitempty,dive,required"`
	Order    *int     `json:"order" validate:"omitempty,gte=0"`
	Min      int      `json:"min"`
	Max      int      `json:"max"`
}

func (q questionRequest) input() services.QuestionInput {
	return services.QuestionInput{
		Type:     q.Type,
		Title:    q.Title,
		Required: q.Required,
		Options:  q.Options,
		Order:    q.Order,
		Min:      q.Min,
		Max:      q.Max,
	}
}

type createSurveyRequest struct {
	Title            string            `json:"title" validate:"required,max=200"`
	Description      string            `json:"description"`
	IsActive         *bool             `json:"is_active"`
	AcceptsResponses *bool             `json:"accepts_responses"`
	RequiresLogin    bool              `json:"requires_login"`
	LimitOne         bool              `json:"limit_one_response"`
	Deadline         *time.Time        `json:"deadline"`
	MaxResponses     int               `json:"max_responses" validate:"gte=0"`
	Questions        []questionRequest `json:"questions" validate:"dive"`
}

type patchSurveyRequest struct {
	Title            *string    `json:"title" validate:"omitempty,max=200"`
	Description      *string    `json:"description"`
	IsActive         *bool      `json:"is_active"`
	AcceptsResponses *bool      `json:"accepts_responses"`
	RequiresLogin    *bool      `json:"requires_login"`
	LimitOne         *bool      `json:"limit_one_response"`
	Deadline         *time.Time `json:"deadline"`
	ClearDeadline    bool       `json:"clear_deadline"`
	MaxResponses     *int       `json:"max_responses" validate:"omitempty,gte=0"`
}

type reorderRequest struct {
	QuestionIDs []string `json:"question_ids" validate:"required,min=1,dive,required"`
}

// visibleSurvey hides the share token from everyone but the owner.
func visibleSurvey(sv *models.Survey, uid string) *models.Survey {
	if sv == nil || (uid != "" && sv.OwnerID == uid) {
		return sv
	}
	out := *sv
	out.ShareToken = ""
	return &out
}

// POST /api/surveys
func (rt *Router) handleCreateSurvey(w http.ResponseWriter, r *http.Request) {
	var req createSurveyRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	in := services.SurveyInput{
		Title:            req.Title,
		Description:      req.Description,
		IsActive:         req.IsActive,
		AcceptsResponses: req.AcceptsResponses,
		RequiresLogin:    req.RequiresLogin,
		LimitOne:         req.LimitOne,
		Deadline:         req.Deadline,
		MaxResponses:     req.MaxResponses,
	}
	for _, q := range req.Questions {
		in.Questions = append(in.Questions, q.input())
	}
	sv, err := rt.surveys.CreateSurvey(r.Context(), currentUser(r), in)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sv)
}

// GET /api/surveys
func (rt *Router) handleListSurveys(w http.ResponseWriter, r *http.Request) {
	list, err := rt.surveys.ListSurveys(r.Context(), currentUser(r))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Survey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"surveys": list})
}

// GET /api/surveys/{id}
func (rt *Router) handleGetSurvey(w http.ResponseWriter, r *http.Request) {
	sv, err := rt.surveys.GetSurvey(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visibleSurvey(sv, currentUser(r)))
}

// PATCH /api/surveys/{id}
func (rt *Router) handleUpdateSurvey(w http.ResponseWriter, r *http.Request) {
	var req patchSurveyRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	sv, err := rt.surveys.UpdateSurvey(r.Context(), currentUser(r), r.PathValue("id"), services.SurveyPatch{
		Title:            req.Title,
		Description:      req.Description,
		IsActive:         req.IsActive,
		AcceptsResponses: req.AcceptsResponses,
		RequiresLogin:    req.RequiresLogin,
		LimitOne:         req.LimitOne,
		Deadline:         req.Deadline,
		ClearDeadline:    req.ClearDeadline,
		MaxResponses:     req.MaxResponses,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

// DELETE /api/surveys/{id}
func (rt *Router) handleDeleteSurvey(w http.ResponseWriter, r *http.Request) {
	if err := rt.surveys.DeleteSurvey(r.Context(), currentUser(r), r.PathValue("id")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/surveys/{id}/questions
func (rt *Router) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	q, err := rt.surveys.AddQuestion(r.Context(), currentUser(r), r.PathValue("id"), req.input())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// PUT /api/surveys/{id}/questions/order
func (rt *Router) handleReorderQuestions(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := rt.decode(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	n, err := rt.surveys.ReorderQuestions(r.Context(), currentUser(r), r.PathValue("id"), req.QuestionIDs)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": n})
}

// GET /api/share/{token}
func (rt *Router) handleShareLookup(w http.ResponseWriter, r *http.Request) {
	sv, err := rt.surveys.GetSurveyByShareToken(r.Context(), r.PathValue("token"))
	if sv == nil {
		rt.writeError(w, r, err)
		return
	}
	body := map[string]any{"survey": visibleSurvey(sv, currentUser(r)), "available": err == nil}
	if err != nil {
		re, ok := services.AsRejection(err)
		if !ok {
			rt.writeError(w, r, err)
			return
		}
		body["reason"] = re.Reason
		body["message"] = re.Message
	}
	writeJSON(w, http.StatusOK, body)
}
