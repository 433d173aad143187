package handler

import (
	"encoding/json"
	"net/http"

	"domstyle-sync-server/internal/service"
	"domstyle-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type AuthHandler struct {
	authService *service.AuthService
	validator   *validator.Validate
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validator:   validator.New(),
	}
}

type depositTokenRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// DepositToken stores a client-acquired bearer token for outbound backend
// calls. The server never mints tokens itself.
func (h *AuthHandler) DepositToken(w http.ResponseWriter, r *http.Request) {
	var req depositTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.authService.StoreToken(req.AccessToken); err != nil {
		response.Unauthorized(w, err.Error())
		return
	}

	response.Success(w, map[string]string{
		"message": "Token stored",
	})
}

func (h *AuthHandler) Role(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.authService.CurrentRole(r.Context()))
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.authService.SignOut()
	response.Success(w, map[string]string{
		"message": "Signed out",
	})
}
