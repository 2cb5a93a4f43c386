package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/auth"
)

// AuthHandler serves the login endpoint.
type AuthHandler struct{ svc *auth.Service }

// RegisterAuthRoutes mounts /auth routes on r.
func RegisterAuthRoutes(r gin.IRouter, svc *auth.Service) {
	h := &AuthHandler{svc: svc}
	r.POST("/auth/login", h.Login)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}
	sess, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			failWith(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sess, "login successful")
}
