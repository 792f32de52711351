package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/hhottdogg/community/internal/errors"
	"github.com/hhottdogg/community/internal/models"
	"github.com/hhottdogg/community/internal/service"
	"github.com/sirupsen/logrus"
)

// loginMessages maps provider error codes to what the login screen shows.
var loginMessages = map[apperrors.Code]string{
	apperrors.CodeCredentialRejected:    "The username or password is incorrect.",
	apperrors.CodeAccountUnconfirmed:    "Your account is not confirmed. Verify your email and try again.",
	apperrors.CodePasswordResetRequired: "A password reset is required. Use \"Forgot password\".",
	apperrors.CodeUserNotFound:          "No such user.",
	apperrors.CodeNewPasswordRequired:   "A new password is required. Contact an administrator.",
	apperrors.CodeNetworkUnreachable:    "The login service is unreachable. Please try again.",
}

const genericLoginMessage = "Login failed."

func LoginMessage(code apperrors.Code) string {
	if msg, ok := loginMessages[code]; ok {
		return msg
	}
	return genericLoginMessage
}

type AuthHandlers struct {
	authService  *service.AuthService
	apiService   *service.APIService
	tokenService *service.TokenService
	responder
}

func NewAuthHandlers(
	authService *service.AuthService,
	apiService *service.APIService,
	tokenService *service.TokenService,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		authService:  authService,
		apiService:   apiService,
		tokenService: tokenService,
		responder:    responder{logger: logger},
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CodeExchangeRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

type SessionResponse struct {
	State string              `json:"state"`
	Valid bool                `json:"valid"`
	User  *models.UserProfile `json:"user,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username and password are required")
		return
	}

	result, err := h.authService.Login(r.Context(), username, req.Password)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, result)
}

// Authorize returns the hosted login URL with a fresh state and PKCE verifier.
func (h *AuthHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	req, err := h.authService.Authorize()
	if err != nil {
		h.respondAuthError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, req)
}

func (h *AuthHandlers) ExchangeCode(w http.ResponseWriter, r *http.Request) {
	var req CodeExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Authorization code is required")
		return
	}

	result, err := h.authService.ExchangeCode(r.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, result)
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authService.Refresh(r.Context()); err != nil {
		h.logger.WithError(err).Warn("Explicit refresh failed")
		code := apperrors.CodeOf(err)
		h.respondWithError(w, http.StatusUnauthorized, string(code), "Session could not be refreshed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Logout always answers 200 so the UI can't get stuck logged in.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	ok := h.apiService.Logout(r.Context())
	h.respondWithJSON(w, http.StatusOK, SuccessResponse{Success: ok})
}

func (h *AuthHandlers) Session(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, SessionResponse{
		State: h.authService.State().String(),
		Valid: h.tokenService.IsValid(r.Context()),
		User:  h.authService.CurrentUser(r.Context()),
	})
}

func (h *AuthHandlers) respondAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrAuthInProgress):
		h.respondWithError(w, http.StatusConflict, "AUTH_IN_PROGRESS", "Another login is in progress")
	case errors.Is(err, apperrors.ErrUnsupported):
		h.respondWithError(w, http.StatusNotImplemented, "UNSUPPORTED", "The identity provider does not support this flow")
	default:
		code := apperrors.CodeOf(err)
		h.respondWithError(w, http.StatusUnauthorized, string(code), LoginMessage(code))
	}
}
