package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/remi2ai/api/middleware"
	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/session"
	"github.com/feichai0017/remi2ai/internal/staging"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type AuthHandler struct {
	sessions     *session.Manager
	staging      *staging.Manager
	oauth        *session.OAuth
	postLoginURL string
	logger       logger.Logger
}

// TokenRequest carries an access token the browser obtained itself.
type TokenRequest struct {
	AccessToken string `json:"accessToken" binding:"required"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func NewAuthHandler(sessions *session.Manager, stagingMgr *staging.Manager, oauth *session.OAuth, postLoginURL string, log logger.Logger) *AuthHandler {
	if postLoginURL == "" {
		postLoginURL = "/"
	}
	return &AuthHandler{
		sessions:     sessions,
		staging:      stagingMgr,
		oauth:        oauth,
		postLoginURL: postLoginURL,
		logger:       log,
	}
}

func (h *AuthHandler) session(c *gin.Context) *session.Session {
	return h.sessions.Get(c.Request.Context(), middleware.SessionID(c))
}

// GetSession 返回会话状态和待显示的通知
func (h *AuthHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session(c).Info())
}

// Login redirects to the Google consent screen.
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.oauth.Configured() {
		handleError(c, h.logger, apperr.New(apperr.KindClientNotReady, "message", "Google OAuth client is not configured"))
		return
	}

	state := h.session(c).BeginSignIn()
	if state == "" {
		c.Redirect(http.StatusFound, h.postLoginURL)
		return
	}
	c.Redirect(http.StatusFound, h.oauth.AuthURL(state))
}

// Callback completes the authorization code flow. Failures are queued as
// session notices and the browser always returns to the front end.
func (h *AuthHandler) Callback(c *gin.Context) {
	sess := h.session(c)
	ctx := c.Request.Context()

	switch {
	case c.Query("error") != "":
		_ = sess.FailSignIn(errors.New(c.Query("error")))
	case !sess.CheckState(c.Query("state")):
		_ = sess.FailSignIn(errors.New("state mismatch"))
	default:
		token, expiry, err := h.oauth.Exchange(ctx, c.Query("code"))
		if err != nil {
			_ = sess.FailSignIn(err)
			break
		}
		_ = sess.CompleteSignIn(ctx, token, expiry)
	}

	c.Redirect(http.StatusFound, h.postLoginURL)
}

// SetToken adopts a browser-obtained access token.
func (h *AuthHandler) SetToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, apperr.Wrap(apperr.KindSignInFailed, err))
		return
	}

	sess := h.session(c)
	expiresAt := time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	if err := sess.CompleteSignIn(c.Request.Context(), req.AccessToken, expiresAt); err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

// SignOut 退出登录，同时丢弃已暂存的文件
func (h *AuthHandler) SignOut(c *gin.Context) {
	sess := h.session(c)
	if err := sess.SignOut(c.Request.Context()); err != nil {
		handleError(c, h.logger, err)
		return
	}
	if h.staging != nil {
		h.staging.Drop(sess.ID())
	}
	c.JSON(http.StatusOK, sess.Info())
}
