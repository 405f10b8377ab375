package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/hash"
	"github.com/ashabalin/webshop/internal/logging"
	authmw "github.com/ashabalin/webshop/internal/middleware/auth"
	"github.com/ashabalin/webshop/internal/models"
	"github.com/ashabalin/webshop/internal/mykafka"
)

type UserHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
}

type UserWithCart struct {
	models.User
	Cart *models.Cart `json:"cart"`
}

func (h *UserHandler) CreateUser(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_create")

	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=6,max=50"`
	}

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		l.Error("user_create_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	user := models.User{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: pwHash,
		Role:         "user",
	}

	// User, cart and profile are created together or not at all.
	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.Cart{UserID: user.ID}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Profile{
			ID:       uuid.New(),
			UserID:   user.ID,
			Language: "en",
			Currency: "USD",
		}).Error
	})
	if err != nil {
		l.Error("user_create_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, "notifications", req.Email, map[string]interface{}{
		"type":  "user_registered",
		"email": user.Email,
	})

	l.Info("user_created", "user_id", user.ID)
	return c.JSON(http.StatusCreated, user)
}

func (h *UserHandler) GetUsers(c echo.Context) error {
	ctx := c.Request().Context()

	var users []models.User
	if err := h.DB.WithContext(ctx).Find(&users).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var carts []models.Cart
	if err := h.DB.WithContext(ctx).Find(&carts).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cartByUser := make(map[uuid.UUID]models.Cart, len(carts))
	for _, cart := range carts {
		cartByUser[cart.UserID] = cart
	}

	res := make([]UserWithCart, 0, len(users))
	for _, u := range users {
		uc := UserWithCart{User: u}
		if cart, ok := cartByUser[u.ID]; ok {
			cart := cart
			uc.Cart = &cart
		}
		res = append(res, uc)
	}

	return c.JSON(http.StatusOK, res)
}

func (h *UserHandler) GetMe(c echo.Context) error {
	claims := authmw.AccessFromContext(c)
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}

	return h.userWithCart(c, userID)
}

func (h *UserHandler) GetUser(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	return h.userWithCart(c, userID)
}

func (h *UserHandler) userWithCart(c echo.Context, userID uuid.UUID) error {
	ctx := c.Request().Context()

	var user models.User
	if err := h.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	res := UserWithCart{User: user}

	var cart models.Cart
	if err := h.DB.WithContext(ctx).Where("user_id = ?", userID).First(&cart).Error; err == nil {
		res.Cart = &cart
	}

	return c.JSON(http.StatusOK, res)
}

func (h *UserHandler) UpdateUser(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_update")

	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	claims := authmw.AccessFromContext(c)
	if claims == nil || (claims.Subject != userID.String() && claims.Role != "admin") {
		return echo.NewHTTPError(http.StatusForbidden, "cannot update another user")
	}

	var req struct {
		Email           *string `json:"email" validate:"omitempty,email"`
		CurrentPassword *string `json:"current_password" validate:"omitempty,min=6"`
		NewPassword     *string `json:"new_password" validate:"omitempty,min=6"`
	}

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if req.Email == nil && req.NewPassword == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "At least one field to update must be provided")
	}
	if req.NewPassword != nil && req.CurrentPassword == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Current password is required to update password")
	}

	var user models.User
	if err := h.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	updates := map[string]interface{}{}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.NewPassword != nil {
		if !hash.CheckPassword(user.PasswordHash, *req.CurrentPassword) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid password")
		}
		newHash, err := hash.HashPassword(*req.NewPassword)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		updates["password_hash"] = newHash
	}

	if err := h.DB.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		l.Error("user_update_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	l.Info("user_updated", "user_id", userID)
	return c.JSON(http.StatusOK, user)
}

func (h *UserHandler) DeleteUser(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_delete")

	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := tx.Where("user_id = ?", userID).First(&cart).Error; err == nil {
			if err := tx.Where("cart_id = ?", cart.ID).Delete(&models.CartProduct{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&cart).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Profile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Address{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", userID).Delete(&models.User{}).Error
	})
	if err != nil {
		l.Error("user_delete_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	l.Info("user_deleted", "user_id", userID)
	return c.NoContent(http.StatusNoContent)
}

func (h *UserHandler) publish(c echo.Context, topic, key string, event map[string]interface{}) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, topic, key, event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}
