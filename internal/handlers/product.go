package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/logging"
	"github.com/ashabalin/webshop/internal/models"
	"github.com/ashabalin/webshop/internal/mykafka"
	"github.com/ashabalin/webshop/internal/service/search"
	"github.com/ashabalin/webshop/internal/util"
)

type ProductHandler struct {
	DB        *gorm.DB
	Producer  *mykafka.Producer
	ES        *elasticsearch.Client
	Index     string
	UploadDir string
}

type ProductWithCategories struct {
	models.Product
	Categories []models.Category `json:"categories"`
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

func (h *ProductHandler) GetProducts(c echo.Context) error {
	ctx := c.Request().Context()

	page := parseIntDefault(c.QueryParam("page"), 1)
	size := parseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	var total int64
	if err := h.DB.WithContext(ctx).Model(&models.Product{}).Count(&total).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var items []models.Product
	if err := h.DB.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	res, err := h.withCategories(ctx, items)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"data": res,
		"meta": map[string]interface{}{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
			"has_prev":    page > 1,
			"has_next":    int64(offset+limit) < total,
		},
	})
}

func (h *ProductHandler) withCategories(ctx context.Context, items []models.Product) ([]ProductWithCategories, error) {
	res := make([]ProductWithCategories, len(items))
	if len(items) == 0 {
		return res, nil
	}

	ids := make([]uint, len(items))
	for i, p := range items {
		ids[i] = p.ID
		res[i] = ProductWithCategories{Product: p, Categories: []models.Category{}}
	}

	var rows []struct {
		models.Category
		ProductID uint
	}
	err := h.DB.WithContext(ctx).
		Table("product_categories").
		Select("categories.id, categories.title, product_categories.product_id").
		Joins("JOIN categories ON categories.id = product_categories.category_id").
		Where("product_categories.product_id IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byProduct := make(map[uint][]models.Category)
	for _, r := range rows {
		byProduct[r.ProductID] = append(byProduct[r.ProductID], r.Category)
	}
	for i := range res {
		if cats, ok := byProduct[res[i].ID]; ok {
			res[i].Categories = cats
		}
	}
	return res, nil
}

func (h *ProductHandler) GetProduct(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	var product models.Product
	if err := h.DB.WithContext(c.Request().Context()).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) CreateProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product_create")

	var req struct {
		Title       string  `json:"title" validate:"required"`
		Price       float64 `json:"price" validate:"required,gt=0"`
		Description string  `json:"description" validate:"required"`
		CategoryIDs []uint  `json:"category_ids"`
	}

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	prod := models.Product{
		Title:       req.Title,
		Price:       req.Price,
		Description: req.Description,
	}

	err := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&prod).Error; err != nil {
			return err
		}
		for _, catID := range req.CategoryIDs {
			if err := tx.Create(&models.ProductCategory{ProductID: prod.ID, CategoryID: catID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.Error("product_create_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, map[string]interface{}{
		"type":       "product_created",
		"product_id": prod.ID,
		"title":      prod.Title,
	})
	h.index(c, &prod)

	return c.JSON(http.StatusCreated, prod)
}

func (h *ProductHandler) PatchProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product_update")

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	var req struct {
		Title       *string  `json:"title"`
		Price       *float64 `json:"price" validate:"omitempty,gt=0"`
		Description *string  `json:"description"`
	}

	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	var prod models.Product
	if err := h.DB.WithContext(ctx).First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.Title != nil {
		prod.Title = *req.Title
	}
	if req.Price != nil {
		prod.Price = *req.Price
	}
	if req.Description != nil {
		prod.Description = *req.Description
	}

	if err := h.DB.WithContext(ctx).Save(&prod).Error; err != nil {
		l.Error("product_update_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, map[string]interface{}{
		"type":       "product_updated",
		"product_id": prod.ID,
		"title":      prod.Title,
	})
	h.index(c, &prod)

	return c.JSON(http.StatusOK, prod)
}

func (h *ProductHandler) DeleteProduct(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", id).Delete(&models.ProductCategory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", id).Delete(&models.DiscountProduct{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Product{}, id).Error
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.publish(c, map[string]interface{}{
		"type":       "product_deleted",
		"product_id": id,
	})
	if h.ES != nil {
		esCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := search.DeleteProduct(esCtx, h.ES, h.Index, uint(id)); err != nil {
			c.Logger().Errorf("ES delete error: %v", err)
		}
	}

	return c.NoContent(http.StatusNoContent)
}

// UploadImage stores a JPEG or PNG under the upload dir and records the
// generated filename on the product row.
func (h *ProductHandler) UploadImage(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product_upload_image")

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	var prod models.Product
	if err := h.DB.WithContext(ctx).First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "product not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "image file required")
	}

	var ext string
	switch fileHeader.Header.Get("Content-Type") {
	case "image/jpeg":
		ext = "jpg"
	case "image/png":
		ext = "png"
	default:
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "Only JPEG and PNG images are allowed")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer src.Close()

	filename := fmt.Sprintf("%s_%s.%s", uuid.NewString(), time.Now().Format("2006-01-02_15:04:05"), ext)
	dst, err := os.Create(filepath.Join(h.UploadDir, filename))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Unable to create a file")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to write a file: %v", err))
	}

	if err := h.DB.WithContext(ctx).Model(&prod).Update("image", filename).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	l.Info("image_uploaded", "product_id", prod.ID, "file", filename)
	return c.JSON(http.StatusOK, prod)
}

func (h *ProductHandler) publish(c echo.Context, event map[string]interface{}) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "product_events", fmt.Sprint(event["product_id"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}

func (h *ProductHandler) index(c echo.Context, prod *models.Product) {
	if h.ES == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := search.IndexProduct(ctx, h.ES, h.Index, prod); err != nil {
		c.Logger().Errorf("ES index error: %v", err)
	}
}
