package handler

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/marketplace-api/internal/auth"
	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/middleware"
	"github.com/flicky/marketplace-api/internal/service"
)

const (
	sessionCookie = "id_token"
	stateCookie   = "oauth_state"
	stateTTL      = 5 * time.Minute
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the browser pages served by AuthHandler.
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// AuthHandler serves the browser login flow and token helpers.
type AuthHandler struct {
	verifier     auth.Verifier
	oauth        *auth.OAuthClient
	userService  *service.UserService
	secureCookie bool
}

func NewAuthHandler(verifier auth.Verifier, oauth *auth.OAuthClient, userService *service.UserService, secureCookie bool) *AuthHandler {
	return &AuthHandler{verifier: verifier, oauth: oauth, userService: userService, secureCookie: secureCookie}
}

// Index shows the signed-in user's id and token, or a welcome page.
func (h *AuthHandler) Index(c *gin.Context) {
	ctx := c.Request.Context()
	token, err := c.Cookie(sessionCookie)
	if err == nil && token != "" {
		if claims, err := h.verifier.Verify(ctx, token); err == nil {
			user, err := h.userService.EnsureUser(ctx, claims.Subject, claims.Name, claims.Email)
			if err != nil {
				respondError(c, err)
				return
			}
			c.HTML(http.StatusOK, "user-info.html", gin.H{
				"Name":    user.Name,
				"Email":   user.Email,
				"UserID":  user.ID,
				"IDToken": token,
			})
			return
		}
		h.clearCookie(c, sessionCookie)
	}
	c.HTML(http.StatusOK, "welcome.html", nil)
}

// Decode returns the verified claims of the bearer token.
func (h *AuthHandler) Decode(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.GetClaims(c))
}

// Login exchanges a username and password for tokens.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Error": dto.MalformedMessage})
		return
	}

	tok, err := h.oauth.PasswordToken(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if body, ok := auth.ProviderError(err); ok {
			c.Data(http.StatusUnauthorized, "application/json", body)
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"Error": "login failed"})
		return
	}

	resp := dto.TokenResponse{
		AccessToken: tok.AccessToken,
		IDToken:     auth.IDToken(tok),
		TokenType:   tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	c.JSON(http.StatusOK, resp)
}

// LoginRedirect starts the authorization-code flow.
func (h *AuthHandler) LoginRedirect(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, int(stateTTL.Seconds()), "/", "", h.secureCookie, true)
	c.Redirect(http.StatusFound, h.oauth.AuthCodeURL(state))
}

// Callback finishes the authorization-code flow and starts a session.
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "invalid state"})
		return
	}
	h.clearCookie(c, stateCookie)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "missing code"})
		return
	}
	tok, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"Error": "code exchange failed"})
		return
	}
	idToken := auth.IDToken(tok)
	if idToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"Error": "no id_token in response"})
		return
	}
	claims, err := h.verifier.Verify(ctx, idToken)
	if err != nil {
		middleware.AbortUnauthorized(c, err)
		return
	}
	if _, err := h.userService.EnsureUser(ctx, claims.Subject, claims.Name, claims.Email); err != nil {
		respondError(c, err)
		return
	}

	maxAge := 0
	if claims.ExpiresAt != nil {
		maxAge = int(time.Until(claims.ExpiresAt.Time).Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, idToken, maxAge, "/", "", h.secureCookie, true)
	c.Redirect(http.StatusFound, "/")
}

// Logout ends the session here and at the provider.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.clearCookie(c, sessionCookie)
	c.Redirect(http.StatusFound, h.oauth.LogoutURL(baseURL(c)+"/"))
}

func (h *AuthHandler) clearCookie(c *gin.Context, name string) {
	c.SetCookie(name, "", -1, "/", "", h.secureCookie, true)
}
