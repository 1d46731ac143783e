package server

import (
	"net/http"
	"strings"

	"github.com/kylekaufman/papertrade/internal/models"
)

// --- Session handlers ---

// activeUser resolves the signed-in or guest user. It writes a 401 and
// returns false when no session is active or the token has expired.
func (s *Server) activeUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	sess, err := s.app.SessionService.RequireActive(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return "", false
	}
	return sess.UserID, true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.SessionService.Current())
}

func (s *Server) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "username and password are required", "invalid_request")
		return
	}

	sess, err := s.app.SessionService.SignIn(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionGuest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	sess, err := s.app.SessionService.ContinueAsGuest(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.app.SessionService.Logout(r.Context()); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.app.SessionService.Current())
}

// --- Identity pass-through handlers ---

func (s *Server) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req models.SignUpRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	result, err := s.app.SessionService.SignUp(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Code     string `json:"code"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Code == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "username and code are required", "invalid_request")
		return
	}
	if err := s.app.SessionService.VerifyEmail(r.Context(), req.Username, req.Code); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *Server) handleAuthResendCode(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "username is required", "invalid_request")
		return
	}
	if err := s.app.SessionService.ResendCode(r.Context(), req.Username); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "email is required", "invalid_request")
		return
	}
	if err := s.app.SessionService.ResetPassword(r.Context(), req.Email); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleAuthConfirmReset(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" || req.Password == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "email, code and password are required", "invalid_request")
		return
	}
	if err := s.app.SessionService.ConfirmResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// --- Profile ---

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}

	if r.Method == http.MethodGet {
		profile, err := s.app.SessionService.Profile(r.Context())
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, profile)
		return
	}

	var update models.ProfileUpdate
	if !DecodeJSON(w, r, &update) {
		return
	}
	profile, err := s.app.SessionService.UpdateProfile(r.Context(), update)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}
