package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ckdtjq0011/saas-survey/internal/middleware"
	"github.com/ckdtjq0011/saas-survey/internal/services"
)

const maxBodyBytes = 1 << 20

// Deps wires the router to its collaborators.
type Deps struct {
	Store             Store
	Locker            services.SubmissionLocker
	Observer          services.SubmissionObserver
	Signer            services.TokenSigner
	TokenTTL          time.Duration
	StrictDescription bool
	// TrustProxy lets X-Forwarded-For and X-Real-IP set the recorded client IP.
	TrustProxy        bool
	OnStatistics      func(surveyID string)
	Logger            *slog.Logger
	// StoreKind and LockKind are reported by /health.
	StoreKind string
	LockKind  string
}

type Router struct {
	surveys    *services.SurveyService
	responses  *services.ResponseService
	stats      *services.StatisticsService
	exports    *services.ExportService
	auth       *services.AuthService
	validate   *validator.Validate
	log        *slog.Logger
	storeKind  string
	lockKind   string
	trustProxy bool
}

func NewRouter(d Deps) *Router {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stats := services.NewStatisticsService(d.Store)
	if d.OnStatistics != nil {
		stats.OnRequest(d.OnStatistics)
	}
	return &Router{
		surveys:    services.NewSurveyService(d.Store, d.StrictDescription),
		responses:  services.NewResponseService(d.Store, d.Locker).WithObserver(d.Observer),
		stats:      stats,
		exports:    services.NewExportService(d.Store),
		auth:       services.NewAuthService(d.Store, d.Signer, d.TokenTTL),
		validate:   validator.New(),
		log:        logger,
		storeKind:  d.StoreKind,
		lockKind:   d.LockKind,
		trustProxy: d.TrustProxy,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	authed := func(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }

	mux.HandleFunc("GET /health", rt.handleHealth)

	mux.HandleFunc("POST /api/auth/register", rt.handleRegister)
	mux.HandleFunc("POST /api/auth/login", rt.handleLogin)

	mux.Handle("POST /api/surveys", authed(rt.handleCreateSurvey))
	mux.Handle("GET /api/surveys", authed(rt.handleListSurveys))
	mux.HandleFunc("GET /api/surveys/{id}", rt.handleGetSurvey)
	mux.Handle("PATCH /api/surveys/{id}", authed(rt.handleUpdateSurvey))
	mux.Handle("DELETE /api/surveys/{id}", authed(rt.handleDeleteSurvey))
	mux.Handle("POST /api/surveys/{id}/questions", authed(rt.handleAddQuestion))
	mux.Handle("PUT /api/surveys/{id}/questions/order", authed(rt.handleReorderQuestions))

	mux.HandleFunc("POST /api/surveys/{id}/responses", rt.handleSubmit)
	mux.Handle("GET /api/surveys/{id}/responses", authed(rt.handleListResponses))
	mux.Handle("GET /api/responses/{id}", authed(rt.handleGetResponse))
	mux.Handle("DELETE /api/responses/{id}", authed(rt.handleDeleteResponse))

	mux.Handle("GET /api/surveys/{id}/statistics", authed(rt.handleStatistics))
	mux.Handle("GET /api/surveys/{id}/export", authed(rt.handleExport))

	mux.HandleFunc("GET /api/share/{token}", rt.handleShareLookup)
	mux.HandleFunc("POST /api/share/{token}/responses", rt.handleSubmit)
}

// GET /health
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"store": rt.storeKind,
		"lock":  rt.lockKind,
	})
}

// decode reads a JSON body into dst and runs struct validation on it.
func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.NewInvalidError("request body required")
		}
		return services.NewInvalidError("invalid JSON body")
	}
	return rt.validate.Struct(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// fieldError is one failed request-body rule. Like answer errors it is sent
// as an element of the details list.
type fieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
}

// writeError is the single place that turns service errors into HTTP statuses.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs services.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   string(services.ReasonValidationFailed),
			Message: "one or more answers are invalid",
			Details: verrs,
		})
		return
	}
	if re, ok := services.AsRejection(err); ok {
		writeJSON(w, rejectionStatus(re.Reason), errorBody{Error: string(re.Reason), Message: re.Message})
		return
	}
	if se, ok := services.AsServiceError(err); ok {
		writeJSON(w, serviceStatus(se.Code), errorBody{Error: string(se.Code), Message: se.Message})
		return
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make([]fieldError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, fieldError{Field: fe.Namespace(), Tag: fe.Tag()})
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "request validation failed", Details: details})
		return
	}
	rt.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
}

func rejectionStatus(reason services.Reason) int {
	switch reason {
	case services.ReasonSurveyNotFound:
		return http.StatusNotFound
	case services.ReasonLoginRequired:
		return http.StatusUnauthorized
	case services.ReasonDuplicateResponse:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func serviceStatus(code services.ErrorCode) int {
	switch code {
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// clientIP returns the peer address. Behind a trusted proxy it prefers the
// first X-Forwarded-For hop, then X-Real-IP; otherwise both headers are
// client-controlled and ignored.
func clientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return peerHost(r)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peerHost(r)
}

func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func currentUser(r *http.Request) string {
	uid, _ := middleware.UserIDFromContext(r.Context())
	return uid
}
