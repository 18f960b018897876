package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
)

type challengeRequest struct {
	Email   string                  `json:"email"`
	Purpose domain.ChallengePurpose `json:"purpose"`
}

type verifyRequest struct {
	Email   string                  `json:"email"`
	Code    string                  `json:"code"`
	Purpose domain.ChallengePurpose `json:"purpose"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type sessionResponse struct {
	Phase          domain.AuthPhase        `json:"phase"`
	Session        *domain.CustomerSession `json:"session"`
	ReauthRequired bool                    `json:"reauthRequired"`
}

func (h *handler) sessionView(c *gin.Context, sess *domain.CustomerSession) sessionResponse {
	snap := storeFrom(c).Load()
	return sessionResponse{Phase: snap.Phase(), Session: sess, ReauthRequired: snap.ReauthRequired}
}

func (h *handler) requestChallenge(c *gin.Context) {
	var req challengeRequest
	if err := bindJSON(c, "session.requestChallenge", &req); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.sessions.RequestChallenge(c.Request.Context(), storeFrom(c), req.Email, req.Purpose); err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusAccepted, h.sessionView(c, nil))
}

func (h *handler) verifyChallenge(c *gin.Context) {
	var req verifyRequest
	if err := bindJSON(c, "session.verifyChallenge", &req); err != nil {
		h.fail(c, err)
		return
	}
	sess, err := h.sessions.VerifyChallenge(c.Request.Context(), storeFrom(c), req.Email, req.Code, req.Purpose)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, h.sessionView(c, sess))
}

func (h *handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := bindJSON(c, "session.signIn", &req); err != nil {
		h.fail(c, err)
		return
	}
	sess, err := h.sessions.SignIn(c.Request.Context(), storeFrom(c), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, h.sessionView(c, sess))
}

func (h *handler) updatePassword(c *gin.Context) {
	var req passwordRequest
	if err := bindJSON(c, "session.updatePassword", &req); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.sessions.UpdatePassword(c.Request.Context(), storeFrom(c), req.Password); err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusNoContent, nil)
}

func (h *handler) signOut(c *gin.Context) {
	h.sessions.SignOut(c.Request.Context(), storeFrom(c))
	h.respond(c, http.StatusOK, h.sessionView(c, nil))
}

func (h *handler) currentSession(c *gin.Context) {
	sess, err := h.sessions.CurrentSession(c.Request.Context(), storeFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, h.sessionView(c, sess))
}
