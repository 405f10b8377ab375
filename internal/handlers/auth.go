package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	authmw "github.com/ashabalin/webshop/internal/middleware/auth"
	"github.com/ashabalin/webshop/internal/logging"
	"github.com/ashabalin/webshop/internal/mykafka"
	"github.com/ashabalin/webshop/internal/service/session"
)

type AuthHandler struct {
	Sessions *session.Service
	Producer *mykafka.Producer
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	pair, err := h.Sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			l.Warn("login_failed", "status", 401)
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid password")
		}
		l.Error("login_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, "user_events", req.Email, map[string]interface{}{
		"type":  "user_logged_in",
		"email": req.Email,
	})

	return c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	claims := authmw.RefreshFromContext(c)
	raw := authmw.RawRefreshToken(c)
	if claims == nil || raw == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	pair, err := h.Sessions.Refresh(ctx, claims, raw)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoSession):
			l.Warn("refresh_rejected", "status", 401, "reason", "no session")
			return echo.NewHTTPError(http.StatusUnauthorized, "Please, use login instead")
		case errors.Is(err, session.ErrRefreshMismatch):
			l.Warn("refresh_rejected", "status", 401, "reason", "stale token")
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token")
		default:
			l.Error("refresh_failed", "status", 500, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	claims := authmw.AccessFromContext(c)
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}

	if err := h.Sessions.Logout(ctx, userID); err != nil {
		l.Error("logout_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	l.Info("logout_successful", "user_id", userID)
	return c.NoContent(http.StatusOK)
}

func (h *AuthHandler) publish(c echo.Context, topic, key string, event map[string]interface{}) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, topic, key, event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}
