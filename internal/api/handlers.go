package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"liveattend/internal/auth"
)

func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeValidation})
		return
	}
	if !auth.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "role must be teacher or student", Code: CodeValidation})
		return
	}
	tokens, err := s.issuer.Issue(req.ClientID, req.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "token issue failed", Code: CodeInternal})
		return
	}
	claims, err := s.issuer.Parse(tokens.AccessToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "token issue failed", Code: CodeInternal})
		return
	}
	s.log.Info(c.Request.Context(), "client registered", "client_id", claims.ClientID, "role", req.Role)
	c.JSON(http.StatusCreated, tokenResponse(claims.ClientID, tokens))
}

func (s *Server) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeValidation})
		return
	}
	tokens, err := s.issuer.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid refresh token"})
		return
	}
	claims, _ := s.issuer.Parse(tokens.AccessToken)
	c.JSON(http.StatusOK, tokenResponse(claims.ClientID, tokens))
}

func tokenResponse(clientID string, t auth.TokenPair) TokenResponse {
	return TokenResponse{
		ClientID:     clientID,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.AccessExp.Unix(),
	}
}

func (s *Server) startSession(c *gin.Context) {
	createdBy := ""
	if claims, ok := auth.ClaimsFrom(c); ok {
		createdBy = claims.ClientID
	}
	sess, err := s.coord.StartSession(c.Request.Context(), createdBy)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{Session: &sess})
}

func (s *Server) stopSession(c *gin.Context) {
	if err := s.coord.StopSession(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": c.Param("id")})
}

func (s *Server) activeSession(c *gin.Context) {
	sess, err := s.coord.ActiveSession(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Session: sess})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.coord.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Session: &sess})
}

func (s *Server) roster(c *gin.Context) {
	records, err := s.coord.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, RosterResponse{Records: records})
}

func (s *Server) markAttendance(c *gin.Context) {
	var req MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeValidation})
		return
	}
	rec, err := s.coord.MarkAttendance(c.Request.Context(), c.Param("id"), req.StudentName, req.Verified)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, RecordResponse{Record: rec})
}
