package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/logging"
	authmw "github.com/ashabalin/webshop/internal/middleware/auth"
	"github.com/ashabalin/webshop/internal/models"
	"github.com/ashabalin/webshop/internal/mykafka"
)

type CartHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
}

type CartItem struct {
	models.Product
	Quantity uint `json:"quantity"`
}

type CartResponse struct {
	CartID    uint       `json:"cart_id"`
	UpdatedAt time.Time  `json:"updated_at"`
	Items     []CartItem `json:"items"`
}

func (h *CartHandler) cartForRequest(c echo.Context) (*models.Cart, error) {
	claims := authmw.AccessFromContext(c)
	if claims == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
	}

	var cart models.Cart
	if err := h.DB.WithContext(c.Request().Context()).Where("user_id = ?", userID).First(&cart).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "cart not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return &cart, nil
}

func (h *CartHandler) GetCart(c echo.Context) error {
	ctx := c.Request().Context()

	cart, err := h.cartForRequest(c)
	if err != nil {
		return err
	}

	var items []CartItem
	err = h.DB.WithContext(ctx).
		Table("cart_products").
		Select("products.*, cart_products.quantity").
		Joins("JOIN products ON products.id = cart_products.product_id").
		Where("cart_products.cart_id = ?", cart.ID).
		Scan(&items).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []CartItem{}
	}

	return c.JSON(http.StatusOK, CartResponse{
		CartID:    cart.ID,
		UpdatedAt: cart.UpdatedAt,
		Items:     items,
	})
}

func (h *CartHandler) AddToCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart_add")

	cart, err := h.cartForRequest(c)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id" validate:"required"`
		Quantity  uint `json:"quantity" validate:"omitempty,gt=0"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	var product models.Product
	if err := h.DB.WithContext(ctx).First(&product, req.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.CartProduct
		err := tx.Where("cart_id = ? AND product_id = ?", cart.ID, req.ProductID).First(&item).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			item = models.CartProduct{CartID: cart.ID, ProductID: req.ProductID, Quantity: req.Quantity}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&models.CartProduct{}).
				Where("cart_id = ? AND product_id = ?", cart.ID, req.ProductID).
				Update("quantity", item.Quantity+req.Quantity).Error; err != nil {
				return err
			}
		}
		return tx.Model(cart).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		l.Error("cart_add_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, map[string]interface{}{
		"type":       "cart_item_added",
		"cart_id":    cart.ID,
		"product_id": req.ProductID,
		"quantity":   req.Quantity,
	})

	return h.GetCart(c)
}

func (h *CartHandler) RemoveFromCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart_remove")

	cart, err := h.cartForRequest(c)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id" validate:"required"`
		Quantity  uint `json:"quantity" validate:"omitempty,gt=0"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.CartProduct
		err := tx.Where("cart_id = ? AND product_id = ?", cart.ID, req.ProductID).First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not in cart")
		}
		if err != nil {
			return err
		}

		if item.Quantity <= req.Quantity {
			if err := tx.Where("cart_id = ? AND product_id = ?", cart.ID, req.ProductID).
				Delete(&models.CartProduct{}).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Model(&models.CartProduct{}).
				Where("cart_id = ? AND product_id = ?", cart.ID, req.ProductID).
				Update("quantity", item.Quantity-req.Quantity).Error; err != nil {
				return err
			}
		}
		return tx.Model(cart).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		l.Error("cart_remove_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, map[string]interface{}{
		"type":       "cart_item_removed",
		"cart_id":    cart.ID,
		"product_id": req.ProductID,
		"quantity":   req.Quantity,
	})

	return h.GetCart(c)
}

func (h *CartHandler) publish(c echo.Context, event map[string]interface{}) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "cart_events", fmt.Sprint(event["cart_id"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}
