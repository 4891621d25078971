package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/models"
)

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type PrincipalResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	CreditBalance int64  `json:"credit_balance"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteHTTP(w, apperr.Validation("invalid JSON"))
		return
	}
	if req.Email == "" || req.Password == "" {
		apperr.WriteHTTP(w, apperr.Validation("missing email or password"))
		return
	}
	p, err := h.svc.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			apperr.WriteHTTP(w, apperr.Conflict("email already registered"))
			return
		}
		if !apperr.Is(err, apperr.KindValidation) {
			h.log.Error("register failed", "error", err)
		}
		apperr.WriteHTTP(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(principalToResponse(p))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteHTTP(w, apperr.Validation("invalid JSON"))
		return
	}
	if req.Email == "" || req.Password == "" {
		apperr.WriteHTTP(w, apperr.Validation("missing email or password"))
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			apperr.WriteHTTP(w, apperr.Unauthenticated("invalid credentials"))
			return
		}
		h.log.Error("login failed", "error", err)
		apperr.WriteHTTP(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(LoginResponse{Token: token})
}

func principalToResponse(p *models.Principal) PrincipalResponse {
	return PrincipalResponse{
		ID:            p.ID.String(),
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		CreditBalance: p.CreditBalance,
	}
}
