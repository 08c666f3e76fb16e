package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/askdrop/askdrop/internal/middleware"
	"github.com/askdrop/askdrop/internal/services"
)

// Router wires the HTTP surface to the services. Asker routes require an
// account (JWT via middleware.WithAuth); /api/r/ routes authorize by the
// recipient bearer token in the path and nothing else.
type Router struct {
	auth          *services.AuthService
	questionSets  *services.QuestionSetService
	distributions *services.DistributionService
	tokens        *services.TokenService
	answers       *services.AnswerService
	links         *services.LinkService
	exports       *services.ExportService
	logger        *zap.Logger
}

func NewRouter(
	auth *services.AuthService,
	questionSets *services.QuestionSetService,
	distributions *services.DistributionService,
	tokens *services.TokenService,
	answers *services.AnswerService,
	links *services.LinkService,
	exports *services.ExportService,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		auth:          auth,
		questionSets:  questionSets,
		distributions: distributions,
		tokens:        tokens,
		answers:       answers,
		links:         links,
		exports:       exports,
		logger:        logger,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister)   // POST
	mux.HandleFunc("/api/auth/login", rt.handleLogin)         // POST
	mux.HandleFunc("/api/question-sets", rt.handleSets)       // POST
	mux.HandleFunc("/api/question-sets/", rt.handleSetScoped) // GET/PUT/DELETE /api/question-sets/{id}
	mux.HandleFunc("/api/distributions", rt.handleDistributions)
	mux.HandleFunc("/api/distributions/", rt.handleDistributionScoped) // GET /api/distributions/{id}/export.csv
	mux.HandleFunc("/api/recipients/", rt.handleRecipientScoped)       // POST .../deactivate | .../remind
	mux.HandleFunc("/api/r/", rt.handleTokenScoped)                    // recipient bearer-token routes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the service error taxonomy to HTTP. Anything outside the
// taxonomy is a 500 with a generic body; internals never reach the client.
func (rt *Router) writeError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := http.StatusInternalServerError
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorUnavailable:
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": string(se.Code), "message": se.Message})
		return
	}
	rt.logger.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "message": "internal error"})
}

func identity(r *http.Request) string {
	uid, _ := middleware.IdentityFromContext(r.Context())
	return uid
}

// --- Auth ---

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Register(req.Email, req.Password, req.Name)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "user_id": res.UserID})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "user_id": res.UserID})
}

// --- Question sets ---

func (rt *Router) handleSets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name      string                 `json:"name"`
		Questions []services.QuestionEdit `json:"questions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	qs, qq, err := rt.questionSets.Create(identity(r), req.Name, req.Questions)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"question_set": qs, "questions": qq})
}

func (rt *Router) handleSetScoped(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/question-sets/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		qs, qq, err := rt.questionSets.Get(identity(r), id)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"question_set": qs, "questions": qq})
	case http.MethodPut:
		var req struct {
			Name      string                 `json:"name"`
			Questions []services.QuestionEdit `json:"questions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := rt.questionSets.Update(identity(r), id, req.Name, req.Questions); err != nil {
			rt.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case http.MethodDelete:
		if err := rt.questionSets.Archive(identity(r), id); err != nil {
			rt.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Distributions ---

func (rt *Router) handleDistributions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		QuestionSetID string                    `json:"question_set_id"`
		Message       string                    `json:"message"`
		Recipients    []services.RecipientInput `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	res, err := rt.distributions.Create(identity(r), req.QuestionSetID, req.Recipients, req.Message)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleDistributionScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/distributions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "export.csv" || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	data, err := rt.exports.DistributionCSV(identity(r), parts[0])
	if err != nil {
		rt.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=answers.csv")
	_, _ = w.Write(data)
}

// --- Recipients (asker management) ---

func (rt *Router) handleRecipientScoped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/recipients/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	var err error
	switch parts[1] {
	case "deactivate":
		err = rt.distributions.Deactivate(identity(r), parts[0])
	case "remind":
		err = rt.distributions.Remind(identity(r), parts[0])
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Recipient token routes ---

// GET  /api/r/{token}           resolve token to questions + answered state
// POST /api/r/{token}/answers   submit one answer
// PUT  /api/r/{token}/answers   edit one answer
// POST /api/r/{token}/claim     bind the token to the authenticated account
func (rt *Router) handleTokenScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/r/")
	parts := strings.Split(rest, "/")
	token := parts[0]
	if token == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, err := rt.tokens.Resolve(token)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctx)
		return
	}
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	switch parts[1] {
	case "answers":
		rt.handleAnswers(w, r, token)
	case "media":
		rt.handleMedia(w, r, token)
	case "claim":
		rt.handleClaim(w, r, token)
	default:
		http.NotFound(w, r)
	}
}

// POST /api/r/{token}/media?question_id=... with the raw blob as the body.
func (rt *Router) handleMedia(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	qid := r.URL.Query().Get("question_id")
	data, err := io.ReadAll(io.LimitReader(r.Body, services.MaxMediaBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	ref, err := rt.answers.AttachMedia(token, qid, data)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ref": ref})
}

func (rt *Router) handleAnswers(w http.ResponseWriter, r *http.Request, token string) {
	var req struct {
		QuestionID string    `json:"question_id"`
		Content    string    `json:"content"`
		MediaRefs  []string  `json:"media_refs"`
		OccurredOn time.Time `json:"occurred_on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodPost:
		a, err := rt.answers.Submit(token, req.QuestionID, req.Content, req.OccurredOn)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	case http.MethodPut:
		a, err := rt.answers.Update(token, req.QuestionID, req.Content, req.MediaRefs)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) handleClaim(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rt.writeError(w, services.NewUnauthorizedError("account required to claim a token"))
		return
	}
	if err := rt.links.Link(token, uid); err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
