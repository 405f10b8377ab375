package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/logging"
	authmw "github.com/ashabalin/webshop/internal/middleware/auth"
	"github.com/ashabalin/webshop/internal/models"
)

type ProfileHandler struct {
	DB *gorm.DB
}

type profilePatch struct {
	FirstName   *string    `json:"first_name"`
	LastName    *string    `json:"last_name"`
	PhoneNumber *string    `json:"phone_number" validate:"omitempty,max=20"`
	BirthDate   *time.Time `json:"birth_date"`
	Language    *string    `json:"language" validate:"omitempty,max=10"`
	Currency    *string    `json:"currency" validate:"omitempty,max=10"`
}

func currentUserID(c echo.Context) (uuid.UUID, error) {
	claims := authmw.AccessFromContext(c)
	if claims == nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}
	return userID, nil
}

func requireSelfOrAdmin(c echo.Context, userID uuid.UUID) error {
	claims := authmw.AccessFromContext(c)
	if claims == nil || (claims.Subject != userID.String() && claims.Role != "admin") {
		return echo.NewHTTPError(http.StatusForbidden, "cannot access another user's data")
	}
	return nil
}

func (h *ProfileHandler) GetUserProfile(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	return h.profileByUser(c, userID)
}

func (h *ProfileHandler) GetMyProfile(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	return h.profileByUser(c, userID)
}

func (h *ProfileHandler) profileByUser(c echo.Context, userID uuid.UUID) error {
	var profile models.Profile
	if err := h.DB.WithContext(c.Request().Context()).
		Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, profile)
}

// UpdateProfile patches by profile id, UpdateMyProfile by the caller's user
// id. Both funnel into the same field merge.
func (h *ProfileHandler) UpdateProfile(c echo.Context) error {
	profileID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid profile id")
	}
	return h.patchProfile(c, "id = ?", profileID)
}

func (h *ProfileHandler) UpdateMyProfile(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	return h.patchProfile(c, "user_id = ?", userID)
}

func (h *ProfileHandler) patchProfile(c echo.Context, cond string, id uuid.UUID) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "profile_update")

	var req profilePatch
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var profile models.Profile
	if err := h.DB.WithContext(ctx).Where(cond, id).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.FirstName != nil {
		profile.FirstName = req.FirstName
	}
	if req.LastName != nil {
		profile.LastName = req.LastName
	}
	if req.PhoneNumber != nil {
		profile.PhoneNumber = req.PhoneNumber
	}
	if req.BirthDate != nil {
		profile.BirthDate = req.BirthDate
	}
	if req.Language != nil {
		profile.Language = *req.Language
	}
	if req.Currency != nil {
		profile.Currency = *req.Currency
	}

	if err := h.DB.WithContext(ctx).Save(&profile).Error; err != nil {
		l.Error("profile_update_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, profile)
}
