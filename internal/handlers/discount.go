package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/logging"
	"github.com/ashabalin/webshop/internal/models"
	"github.com/ashabalin/webshop/internal/mykafka"
)

type DiscountHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
}

type DiscountWithProducts struct {
	models.Discount
	Products []models.Product `json:"products"`
}

func (h *DiscountHandler) GetDiscounts(c echo.Context) error {
	ctx := c.Request().Context()

	var discounts []models.Discount
	if err := h.DB.WithContext(ctx).Order("id ASC").Find(&discounts).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	res := make([]DiscountWithProducts, len(discounts))
	if len(discounts) == 0 {
		return c.JSON(http.StatusOK, res)
	}

	ids := make([]uint, len(discounts))
	for i, d := range discounts {
		ids[i] = d.ID
		res[i] = DiscountWithProducts{Discount: d, Products: []models.Product{}}
	}

	var rows []struct {
		models.Product
		DiscountID uint
	}
	err := h.DB.WithContext(ctx).
		Table("discount_products").
		Select("products.*, discount_products.discount_id").
		Joins("JOIN products ON products.id = discount_products.product_id").
		Where("discount_products.discount_id IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	byDiscount := make(map[uint][]models.Product)
	for _, r := range rows {
		byDiscount[r.DiscountID] = append(byDiscount[r.DiscountID], r.Product)
	}
	for i := range res {
		if prods, ok := byDiscount[res[i].ID]; ok {
			res[i].Products = prods
		}
	}

	return c.JSON(http.StatusOK, res)
}

func (h *DiscountHandler) CreateDiscount(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "discount_create")

	var req struct {
		Title        string    `json:"title" validate:"required"`
		DiscountType string    `json:"discount_type" validate:"required"`
		Amount       float64   `json:"amount" validate:"required,gt=0"`
		StartDate    time.Time `json:"start_date" validate:"required"`
		EndDate      time.Time `json:"end_date" validate:"required"`
		IsActive     bool      `json:"is_active"`
		AppliesToAll bool      `json:"applies_to_all"`
		ProductIDs   []uint    `json:"product_ids"`
	}

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	discountType := strings.ToLower(req.DiscountType)
	if discountType != "fixed" && discountType != "percentage" {
		return echo.NewHTTPError(http.StatusBadRequest, "Wrong discount_type")
	}
	if !req.EndDate.After(req.StartDate) {
		return echo.NewHTTPError(http.StatusBadRequest, "End date must be after start date")
	}

	discount := models.Discount{
		Title:        req.Title,
		DiscountType: discountType,
		Amount:       req.Amount,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		IsActive:     req.IsActive,
		AppliesToAll: req.AppliesToAll,
	}

	err := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&discount).Error; err != nil {
			return err
		}
		for _, pid := range req.ProductIDs {
			if err := tx.Create(&models.DiscountProduct{DiscountID: discount.ID, ProductID: pid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.Error("discount_create_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, "notifications", map[string]interface{}{
		"type":       "discount_created",
		"title":      discount.Title,
		"amount":     discount.Amount,
		"start_date": discount.StartDate,
		"end_date":   discount.EndDate,
	})

	return c.JSON(http.StatusCreated, discount)
}

func (h *DiscountHandler) PatchDiscount(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "discount_update")

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discount id")
	}

	var req struct {
		Title        *string    `json:"title"`
		DiscountType *string    `json:"discount_type"`
		Amount       *float64   `json:"amount" validate:"omitempty,gt=0"`
		StartDate    *time.Time `json:"start_date"`
		EndDate      *time.Time `json:"end_date"`
		IsActive     *bool      `json:"is_active"`
		AppliesToAll *bool      `json:"applies_to_all"`
	}

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var discount models.Discount
	if err := h.DB.WithContext(ctx).First(&discount, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "discount not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.Title != nil {
		discount.Title = *req.Title
	}
	if req.DiscountType != nil {
		dt := strings.ToLower(*req.DiscountType)
		if dt != "fixed" && dt != "percentage" {
			return echo.NewHTTPError(http.StatusBadRequest, "Wrong discount_type")
		}
		discount.DiscountType = dt
	}
	if req.Amount != nil {
		discount.Amount = *req.Amount
	}
	if req.StartDate != nil {
		discount.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		discount.EndDate = *req.EndDate
	}
	if !discount.EndDate.After(discount.StartDate) {
		return echo.NewHTTPError(http.StatusBadRequest, "End date must be after start date")
	}
	if req.IsActive != nil {
		discount.IsActive = *req.IsActive
	}
	if req.AppliesToAll != nil {
		discount.AppliesToAll = *req.AppliesToAll
	}

	if err := h.DB.WithContext(ctx).Save(&discount).Error; err != nil {
		l.Error("discount_update_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, discount)
}

func (h *DiscountHandler) DeleteDiscount(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discount id")
	}

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("discount_id = ?", id).Delete(&models.DiscountProduct{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Discount{}, id).Error
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *DiscountHandler) AddDiscountProducts(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discount id")
	}

	var req struct {
		ProductIDs []uint `json:"product_ids" validate:"required,min=1"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var discount models.Discount
	if err := h.DB.WithContext(ctx).First(&discount, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "discount not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pid := range req.ProductIDs {
			var count int64
			if err := tx.Model(&models.DiscountProduct{}).
				Where("discount_id = ? AND product_id = ?", discount.ID, pid).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(&models.DiscountProduct{DiscountID: discount.ID, ProductID: pid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusOK)
}

func (h *DiscountHandler) RemoveDiscountProducts(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discount id")
	}

	var req struct {
		ProductIDs []uint `json:"product_ids" validate:"required,min=1"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	err = h.DB.WithContext(ctx).
		Where("discount_id = ? AND product_id IN ?", id, req.ProductIDs).
		Delete(&models.DiscountProduct{}).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusOK)
}

func (h *DiscountHandler) publish(c echo.Context, topic string, event map[string]interface{}) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, topic, fmt.Sprint(event["title"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}
