package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/0xredeth/doneth/internal/session"
)

const sessionKey = "session"

type challengeRequest struct {
	Address string `json:"address" binding:"required"`
}

type loginRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type accountRequest struct {
	// Account is the identity to act as. Empty clears the selection.
	Account string `json:"account"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	Session session.Session `json:"session"`
}

// sessionStatus maps session errors to HTTP status codes.
func sessionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidAddress), errors.Is(err, session.ErrInvalidSignature):
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireSession rejects requests without a live bearer session.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			ErrorResponse(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sess, err := s.sessions.Get(token)
		if err != nil {
			ErrorResponse(c, http.StatusUnauthorized, err.Error())
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

func currentSession(c *gin.Context) session.Session {
	return c.MustGet(sessionKey).(session.Session)
}

func (s *Server) issueChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "address is required")
		return
	}

	ch, err := s.sessions.IssueChallenge(req.Address)
	if err != nil {
		ErrorResponse(c, sessionStatus(err), err.Error())
		return
	}
	SuccessResponse(c, http.StatusOK, "sign the message to log in", ch)
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "address and signature are required")
		return
	}

	sess, err := s.sessions.Login(req.Address, req.Signature)
	if err != nil {
		ErrorResponse(c, sessionStatus(err), err.Error())
		return
	}
	SuccessResponse(c, http.StatusOK, "logged in", loginResponse{Token: sess.ID, Session: sess})
}

func (s *Server) getSession(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, "ok", currentSession(c))
}

func (s *Server) selectAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	token := currentSession(c).ID
	var (
		sess session.Session
		err  error
	)
	if req.Account == "" {
		sess, err = s.sessions.ClearAccount(token)
	} else {
		sess, err = s.sessions.SelectAccount(token, req.Account)
	}
	if err != nil {
		ErrorResponse(c, sessionStatus(err), err.Error())
		return
	}
	SuccessResponse(c, http.StatusOK, "account updated", sess)
}

func (s *Server) logout(c *gin.Context) {
	s.sessions.Logout(currentSession(c).ID)
	SuccessResponse(c, http.StatusOK, "logged out", nil)
}
