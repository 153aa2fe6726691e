package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"mathsnap/internal/auth"
	"mathsnap/internal/llm"
	appmetrics "mathsnap/internal/metrics"
	"mathsnap/internal/middleware/ratelimit"
	"mathsnap/internal/models"
	"mathsnap/internal/quota"
	"mathsnap/internal/services"
	"mathsnap/internal/session"
)

// maxImageBytes caps the uploaded problem photo size.
const maxImageBytes = 8 << 20

// AccountDirectory is the slice of the user service the handlers need.
type AccountDirectory interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePreferences(ctx context.Context, email, language, style, grade string) error
	SetPremium(ctx context.Context, email string, premium bool) error
	List(ctx context.Context) ([]models.User, error)
}

// SolveLog records completed solves.
type SolveLog interface {
	SaveSolve(ctx context.Context, email, grade, model string, answerChars int, duration float64) error
}

// Solver is the completion-service boundary.
type Solver interface {
	Model() string
	Solve(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	SolveStream(ctx context.Context, prompt string, image []byte, mimeType string, fn func(chunk string) error) error
}

type Handler struct {
	Users    AccountDirectory
	Solves   SolveLog
	Auth     *auth.Service
	Sessions *session.Manager
	Quota    *quota.Tracker
	Limiter  *ratelimit.RateLimiter
	LLM      Solver

	DB    *sql.DB
	Redis *redis.Client

	RememberTTL   time.Duration
	SecureCookies bool
}

// IdentityRestorer adapts the auth service into the session middleware's
// remember-me hook.
func IdentityRestorer(authSvc *auth.Service) session.Restorer {
	return session.RestorerFunc(func(c echo.Context, token string) (*session.Identity, error) {
		user, err := authSvc.RestoreFromToken(c.Request().Context(), token)
		if err != nil {
			return nil, err
		}
		return &session.Identity{
			Email:     user.Email,
			IsAdmin:   user.IsAdmin,
			IsPremium: user.IsPremium,
		}, nil
	})
}

func (h *Handler) HealthCheck(c echo.Context) error {
	ctx := c.Request().Context()

	dbStatus := "healthy"
	if h.DB == nil {
		dbStatus = "unhealthy"
	} else if err := h.DB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if h.Redis == nil {
		redisStatus = "unhealthy"
	} else if err := h.Redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	status := "healthy"
	if dbStatus != "healthy" || redisStatus != "healthy" {
		status = "degraded"
	}

	return c.JSON(http.StatusOK, models.HealthResponse{
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
		Database:  dbStatus,
		Redis:     redisStatus,
	})
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	SchoolGrade string `json:"school_grade"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := h.Auth.Register(c.Request().Context(), req.Email, req.Password, req.SchoolGrade)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			return echo.NewHTTPError(http.StatusConflict, "email already registered")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "registration failed")
	}

	return c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Remember bool   `json:"remember"`
}

type loginResponse struct {
	Email     string             `json:"email"`
	IsAdmin   bool               `json:"is_admin"`
	IsPremium bool               `json:"is_premium"`
	Quota     models.QuotaStatus `json:"quota"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := h.Auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	identity := session.Identity{
		Email:     user.Email,
		IsAdmin:   user.IsAdmin,
		IsPremium: user.IsPremium,
	}
	if err := h.Sessions.Open(ctx, c.Response(), identity); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	if req.Remember {
		token, err := h.Auth.IssueRememberToken(user.Email)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
		}
		c.SetCookie(&http.Cookie{
			Name:     session.RememberCookie,
			Value:    token,
			Path:     "/",
			MaxAge:   int(h.RememberTTL.Seconds()),
			HttpOnly: true,
			Secure:   h.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}

	status, err := h.Quota.Status(ctx, user.Email)
	if err != nil {
		log.Printf("quota status for %s failed: %v", user.Email, err)
	}

	return c.JSON(http.StatusOK, loginResponse{
		Email:     user.Email,
		IsAdmin:   user.IsAdmin,
		IsPremium: user.IsPremium,
		Quota:     status,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	if err := h.Sessions.Destroy(c.Request().Context(), c.Response(), c.Request()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "logout failed")
	}
	return c.NoContent(http.StatusNoContent)
}

type meResponse struct {
	Email             string             `json:"email"`
	IsAdmin           bool               `json:"is_admin"`
	IsPremium         bool               `json:"is_premium"`
	SchoolGrade       string             `json:"school_grade"`
	PreferredLanguage string             `json:"preferred_language"`
	AnswerStyle       string             `json:"answer_style"`
	Quota             models.QuotaStatus `json:"quota"`
}

func (h *Handler) Me(c echo.Context) error {
	identity := session.FromContext(c)
	ctx := c.Request().Context()

	user, err := h.Users.GetByEmail(ctx, identity.Email)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			// Account deleted while the session lived on.
			_ = h.Sessions.Destroy(ctx, c.Response(), c.Request())
			return echo.NewHTTPError(http.StatusUnauthorized, "account no longer exists")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "account store unavailable")
	}

	status, err := h.Quota.Status(ctx, user.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "account store unavailable")
	}

	return c.JSON(http.StatusOK, meResponse{
		Email:             user.Email,
		IsAdmin:           user.IsAdmin,
		IsPremium:         user.IsPremium,
		SchoolGrade:       user.SchoolGrade,
		PreferredLanguage: user.PreferredLanguage,
		AnswerStyle:       user.AnswerStyle,
		Quota:             status,
	})
}

type settingsRequest struct {
	PreferredLanguage string `json:"preferred_language" validate:"required,oneof=ar fr en"`
	AnswerStyle       string `json:"answer_style" validate:"required,oneof=detailed concise"`
	SchoolGrade       string `json:"school_grade"`
}

func (h *Handler) UpdateSettings(c echo.Context) error {
	identity := session.FromContext(c)

	var req settingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	err := h.Users.UpdatePreferences(c.Request().Context(), identity.Email, req.PreferredLanguage, req.AnswerStyle, req.SchoolGrade)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "account no longer exists")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "account store unavailable")
	}

	return c.NoContent(http.StatusNoContent)
}

type solveResponse struct {
	Answer string             `json:"answer"`
	Model  string             `json:"model"`
	Quota  models.QuotaStatus `json:"quota"`
}

func (h *Handler) Solve(c echo.Context) error {
	ctx := c.Request().Context()
	identity := session.FromContext(c)

	appmetrics.SolveRequestsTotal.Inc()
	appmetrics.ActiveSolves.Inc()
	defer appmetrics.ActiveSolves.Dec()

	startWall := time.Now()
	defer func() {
		appmetrics.SolveDurationSeconds.Observe(time.Since(startWall).Seconds())
	}()

	if h.Limiter != nil && !h.Limiter.IsAllowed(identity.Email) {
		appmetrics.RateLimitDroppedTotal.Inc()
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")
	}

	// Gate on the daily quota before paying for a model call. The check is
	// non-consuming; the unit is only recorded after a successful answer.
	decision, err := h.Quota.CheckAndConsume(ctx, identity.Email, false)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "account store unavailable")
	}
	if !decision.Allowed {
		// Unknown account: fail closed.
		return echo.NewHTTPError(http.StatusUnauthorized, "account no longer exists")
	}
	if !decision.Premium && decision.Used >= h.Quota.Max() {
		appmetrics.QuotaDeniedTotal.Inc()
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error": "daily free quota exhausted, come back tomorrow",
			"quota": models.QuotaStatus{
				Used:      decision.Used,
				Remaining: 0,
				Limit:     h.Quota.Max(),
				ResetsAt:  h.Quota.ResetsAt().Format(time.RFC3339),
			},
		})
	}

	image, mimeType, err := readProblemImage(c)
	if err != nil {
		return err
	}

	user, err := h.Users.GetByEmail(ctx, identity.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "account store unavailable")
	}
	prompt := buildPromptFor(user)

	if c.QueryParam("stream") == "true" {
		return h.solveStreaming(c, identity, user, prompt, image, mimeType, startWall)
	}
	return h.solveBatch(c, identity, user, prompt, image, mimeType, startWall)
}

func (h *Handler) solveBatch(c echo.Context, identity *session.Identity, user *models.User, prompt string, image []byte, mimeType string, startWall time.Time) error {
	ctx := c.Request().Context()

	llmStart := time.Now()
	answer, err := h.LLM.Solve(ctx, prompt, image, mimeType)
	appmetrics.LLMDurationSeconds.Observe(time.Since(llmStart).Seconds())
	if err != nil {
		appmetrics.LLMErrorsTotal.Inc()
		log.Printf("solve for %s failed: %v", identity.Email, err)
		return echo.NewHTTPError(http.StatusBadGateway, "model call failed, check the image quality and retry")
	}

	status := h.recordSolve(identity, user, len(answer), time.Since(startWall).Seconds())
	appmetrics.AnswerCharsTotal.Add(float64(len(answer)))

	return c.JSON(http.StatusOK, solveResponse{
		Answer: answer,
		Model:  h.LLM.Model(),
		Quota:  status,
	})
}

func (h *Handler) solveStreaming(c echo.Context, identity *session.Identity, user *models.User, prompt string, image []byte, mimeType string, startWall time.Time) error {
	ctx := c.Request().Context()

	c.Response().Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("X-Accel-Buffering", "no")

	answerChars := 0
	llmStart := time.Now()
	err := h.LLM.SolveStream(ctx, prompt, image, mimeType, func(chunk string) error {
		if answerChars == 0 {
			c.Response().WriteHeader(http.StatusOK)
		}
		if _, err := io.WriteString(c.Response(), chunk); err != nil {
			return err
		}
		c.Response().Flush()
		answerChars += len(chunk)
		return nil
	})
	appmetrics.LLMDurationSeconds.Observe(time.Since(llmStart).Seconds())

	if err != nil {
		appmetrics.LLMErrorsTotal.Inc()
		if answerChars == 0 {
			return echo.NewHTTPError(http.StatusBadGateway, "model call failed, check the image quality and retry")
		}
		// Headers are gone; all we can do is cut the stream.
		log.Printf("stream for %s aborted after %d chars: %v", identity.Email, answerChars, err)
		return nil
	}

	h.recordSolve(identity, user, answerChars, time.Since(startWall).Seconds())
	appmetrics.AnswerCharsTotal.Add(float64(answerChars))
	return nil
}

// recordSolve consumes one quota unit for non-premium accounts and persists
// the solve record. It runs on a fresh context so a client that disconnects
// right after the last chunk still gets counted.
func (h *Handler) recordSolve(identity *session.Identity, user *models.User, answerChars int, duration float64) models.QuotaStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status := models.QuotaStatus{Limit: h.Quota.Max(), Premium: identity.IsPremium}

	if !identity.IsPremium {
		decision, err := h.Quota.CheckAndConsume(ctx, identity.Email, true)
		if err != nil {
			log.Printf("failed to record usage for %s: %v", identity.Email, err)
		} else {
			status.Used = decision.Used
			status.Remaining = h.Quota.Max() - decision.Used
			if status.Remaining < 0 {
				status.Remaining = 0
			}
			status.ResetsAt = h.Quota.ResetsAt().Format(time.RFC3339)
		}
	}

	dbStart := time.Now()
	if err := h.Solves.SaveSolve(ctx, identity.Email, user.SchoolGrade, h.LLM.Model(), answerChars, duration); err != nil {
		log.Printf("failed to save solve for %s: %v", identity.Email, err)
	}
	appmetrics.DBWriteDurationSeconds.Observe(time.Since(dbStart).Seconds())

	return status
}

func (h *Handler) AdminListUsers(c echo.Context) error {
	users, err := h.Users.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "account store unavailable")
	}
	return c.JSON(http.StatusOK, users)
}

type premiumRequest struct {
	IsPremium bool `json:"is_premium"`
}

func (h *Handler) AdminSetPremium(c echo.Context) error {
	email := c.Param("email")
	if email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}

	var req premiumRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	ctx := c.Request().Context()
	if _, err := h.Users.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no such account")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "account store unavailable")
	}
	if err := h.Users.SetPremium(ctx, email, req.IsPremium); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "account store unavailable")
	}

	// The flag lives in the quota snapshot; drop any cached copy.
	h.Quota.InvalidateAccount(ctx, email)

	return c.NoContent(http.StatusNoContent)
}

func buildPromptFor(user *models.User) string {
	return promptBuilder(user.SchoolGrade, user.PreferredLanguage, user.AnswerStyle)
}

// promptBuilder is swappable in tests.
var promptBuilder = llm.BuildPrompt

func readProblemImage(c echo.Context) ([]byte, string, error) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "an image upload named 'image' is required")
	}
	if fileHeader.Size > maxImageBytes {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "could not read image")
	}
	defer func() {
		_ = file.Close()
	}()

	image, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "could not read image")
	}
	if len(image) > maxImageBytes {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}

	mimeType := http.DetectContentType(image)
	if mimeType != "image/png" && mimeType != "image/jpeg" && mimeType != "image/webp" {
		return nil, "", echo.NewHTTPError(http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported image type %s", mimeType))
	}

	return image, mimeType, nil
}
