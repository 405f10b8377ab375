package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/logging"
	"github.com/ashabalin/webshop/internal/models"
)

type AddressHandler struct {
	DB *gorm.DB
}

type addressPatch struct {
	Label       *string `json:"label" validate:"omitempty,max=50"`
	AddressLine *string `json:"address_line"`
	City        *string `json:"city" validate:"omitempty,max=30"`
	PostalCode  *string `json:"postal_code" validate:"omitempty,max=30"`
	Country     *string `json:"country" validate:"omitempty,max=30"`
}

func (h *AddressHandler) CreateAddress(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "address_create")

	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	if err := requireSelfOrAdmin(c, userID); err != nil {
		return err
	}

	var req struct {
		Label       *string `json:"label" validate:"omitempty,max=50"`
		AddressLine string  `json:"address_line" validate:"required"`
		City        *string `json:"city" validate:"omitempty,max=30"`
		PostalCode  *string `json:"postal_code" validate:"omitempty,max=30"`
		Country     *string `json:"country" validate:"omitempty,max=30"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var user models.User
	if err := h.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	address := models.Address{
		ID:          uuid.New(),
		UserID:      userID,
		Label:       req.Label,
		AddressLine: req.AddressLine,
		City:        req.City,
		PostalCode:  req.PostalCode,
		Country:     req.Country,
	}
	if err := h.DB.WithContext(ctx).Create(&address).Error; err != nil {
		l.Error("address_create_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, address)
}

func (h *AddressHandler) GetUserAddresses(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	if err := requireSelfOrAdmin(c, userID); err != nil {
		return err
	}
	return h.addressesByUser(c, userID)
}

func (h *AddressHandler) GetMyAddresses(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	return h.addressesByUser(c, userID)
}

func (h *AddressHandler) addressesByUser(c echo.Context, userID uuid.UUID) error {
	var addresses []models.Address
	if err := h.DB.WithContext(c.Request().Context()).
		Where("user_id = ?", userID).Find(&addresses).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if addresses == nil {
		addresses = []models.Address{}
	}
	return c.JSON(http.StatusOK, addresses)
}

// UpdateAddress patches any address by id. UpdateMyAddress additionally
// scopes the lookup to the caller, so someone else's address id reads as
// not found.
func (h *AddressHandler) UpdateAddress(c echo.Context) error {
	addressID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid address id")
	}
	return h.patchAddress(c, h.DB.Where("id = ?", addressID))
}

func (h *AddressHandler) UpdateMyAddress(c echo.Context) error {
	addressID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid address id")
	}
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	return h.patchAddress(c, h.DB.Where("id = ? AND user_id = ?", addressID, userID))
}

func (h *AddressHandler) patchAddress(c echo.Context, scope *gorm.DB) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "address_update")

	var req addressPatch
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var address models.Address
	if err := scope.WithContext(ctx).First(&address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "address not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.Label != nil {
		address.Label = req.Label
	}
	if req.AddressLine != nil {
		address.AddressLine = *req.AddressLine
	}
	if req.City != nil {
		address.City = req.City
	}
	if req.PostalCode != nil {
		address.PostalCode = req.PostalCode
	}
	if req.Country != nil {
		address.Country = req.Country
	}

	if err := h.DB.WithContext(ctx).Save(&address).Error; err != nil {
		l.Error("address_update_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, address)
}

func (h *AddressHandler) DeleteMyAddress(c echo.Context) error {
	ctx := c.Request().Context()

	addressID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid address id")
	}
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	res := h.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", addressID, userID).
		Delete(&models.Address{})
	if res.Error != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "address not found")
	}

	return c.NoContent(http.StatusNoContent)
}
