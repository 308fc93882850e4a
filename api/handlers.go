package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/grantly/grantly/pkg/auth"
	grantlyerr "github.com/grantly/grantly/pkg/errors"
	"github.com/grantly/grantly/pkg/restapi"
	"github.com/grantly/grantly/pkg/types"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleLogin authenticates a credential pair and issues a session token
func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	a := s.authenticator(c)
	identity, err := a.Login(c.Request.Context(), auth.Credentials{
		Username: req.Username,
		Password: req.Password,
		Remember: req.Remember,
		IP:       c.ClientIP(),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	token, err := s.tokens.Issue(identity)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, BaseResponse[LoginResponse]{
		Code:    http.StatusOK,
		Message: "login successful",
		Data: &LoginResponse{
			Token:    token,
			UserID:   identity.UserID,
			Username: identity.Username,
			GroupID:  identity.GroupID,
		},
	})
}

// handleLogout clears the remember-me pair. Logging out while anonymous
// succeeds as well.
func (s *Server) handleLogout(c *gin.Context) {
	a := s.authenticator(c)
	ctx := c.Request.Context()

	// resolve the identity first so the logout event names the user
	_, _ = a.IsLoggedIn(ctx, s.cookiePair(c))
	a.Logout(ctx)

	c.JSON(http.StatusOK, SimpleResponse{
		Code:    http.StatusOK,
		Message: "logged out",
	})
}

// handleSession reports the reconciled login state of the request
func (s *Server) handleSession(c *gin.Context) {
	a := s.authenticator(c)

	loggedIn, err := a.IsLoggedIn(c.Request.Context(), s.cookiePair(c))
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := SessionResponse{LoggedIn: loggedIn}
	if identity := a.Identity(); identity != nil {
		resp.UserID = identity.UserID
		resp.Username = identity.Username
	}
	c.JSON(http.StatusOK, BaseResponse[SessionResponse]{
		Code:    http.StatusOK,
		Message: "session state",
		Data:    &resp,
	})
}

// handleReset generates new credentials for the named account. The
// response carries them for out-of-band delivery.
func (s *Server) handleReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	result, err := s.authenticator(c).ResetPassword(c.Request.Context(), req.Username)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, BaseResponse[ResetResponse]{
		Code:    http.StatusOK,
		Message: "password reset",
		Data: &ResetResponse{
			Password:      result.Password,
			ActivationKey: result.ActivationKey,
		},
	})
}

// handlePassword sets a caller-chosen password for the token's user
func (s *Server) handlePassword(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	userID := c.GetString("user_id")
	if err := s.authenticator(c).UpdatePassword(c.Request.Context(), userID, req.Password); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, SimpleResponse{
		Code:    http.StatusOK,
		Message: "password updated",
	})
}

// handleCheck runs one authorization decision. The user defaults to the
// bearer token's subject and falls back to anonymous.
func (s *Server) handleCheck(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}

	userID := req.UserID
	if userID == "" {
		if header := c.GetHeader("Authorization"); len(header) > 7 {
			if claims, err := s.tokens.Parse(header[7:]); err == nil {
				userID = claims.UserID
			}
		}
	}

	allowed, err := s.newEvaluator().IsAllowed(c.Request.Context(), types.Action{
		Component: req.Component,
		View:      req.View,
		Task:      req.Task,
	}, userID)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, BaseResponse[CheckResponse]{
		Code:    http.StatusOK,
		Message: "authorization checked",
		Data:    &CheckResponse{Allowed: allowed},
	})
}

// handleAPI authenticates a signed API request and reports the principal
func (s *Server) handleAPI(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		s.badRequest(c, err)
		return
	}

	req := restapi.FromHTTPRequest(c.Request)
	identity, err := s.apiAuth.Authorize(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := APIAuthResponse{
		Method: req.Method,
		Public: identity.IsAnonymous(),
	}
	if !identity.IsAnonymous() {
		resp.UserID = identity.UserID
		resp.Username = identity.Username
	}
	c.JSON(http.StatusOK, BaseResponse[APIAuthResponse]{
		Code:    http.StatusOK,
		Message: "authenticated",
		Data:    &resp,
	})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Code:    http.StatusBadRequest,
		Message: err.Error(),
		Error:   "VALIDATION_ERROR",
	})
}

// fail maps a typed failure onto its HTTP status and error code
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := string(grantlyerr.ErrCodeInternal)

	if errCode := grantlyerr.Code(err); errCode != "" {
		code = string(errCode)
		status = grantlyerr.HTTPStatus(errCode)
	}

	s.logger.Warn("request failed", map[string]interface{}{
		"path":   c.Request.URL.Path,
		"code":   code,
		"status": status,
	})
	c.JSON(status, ErrorResponse{
		Code:    status,
		Message: err.Error(),
		Error:   code,
	})
}
