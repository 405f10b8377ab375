package http

import (
	"net/http"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/handlers"
	authmw "github.com/ashabalin/webshop/internal/middleware/auth"
	"github.com/ashabalin/webshop/internal/mykafka"
	"github.com/ashabalin/webshop/internal/service/session"
	"github.com/ashabalin/webshop/internal/tokens"
)

// Deps carries everything the route tree needs. ES may be nil, in which
// case /search answers 503 and product indexing is skipped.
type Deps struct {
	DB        *gorm.DB
	Codec     *tokens.Codec
	Producer  *mykafka.Producer
	ES        *elasticsearch.Client
	ESIndex   string
	UploadDir string
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func Register(e *echo.Echo, d Deps) {
	e.Validator = &requestValidator{validate: validator.New()}

	guard := authmw.NewGuard(d.Codec)
	sessions := &session.Service{DB: d.DB, Codec: d.Codec}

	authHandler := &handlers.AuthHandler{Sessions: sessions, Producer: d.Producer}
	userHandler := &handlers.UserHandler{DB: d.DB, Producer: d.Producer}
	productHandler := &handlers.ProductHandler{
		DB:        d.DB,
		Producer:  d.Producer,
		ES:        d.ES,
		Index:     d.ESIndex,
		UploadDir: d.UploadDir,
	}
	profileHandler := &handlers.ProfileHandler{DB: d.DB}
	addressHandler := &handlers.AddressHandler{DB: d.DB}
	categoryHandler := &handlers.CategoryHandler{DB: d.DB}
	discountHandler := &handlers.DiscountHandler{DB: d.DB, Producer: d.Producer}
	cartHandler := &handlers.CartHandler{DB: d.DB, Producer: d.Producer}
	searchHandler := &handlers.SearchHandler{ES: d.ES, Index: d.ESIndex}

	e.GET("/health/live", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/ready", func(c echo.Context) error {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request().Context())
		}
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.Static("/uploads", d.UploadDir)

	api := e.Group("/api")

	api.POST("/users", userHandler.CreateUser)
	api.GET("/users", userHandler.GetUsers, guard.RequireAdmin)
	api.GET("/users/me", userHandler.GetMe, guard.RequireAccess)
	api.GET("/users/:id", userHandler.GetUser, guard.RequireAdmin)
	api.PATCH("/users/:id", userHandler.UpdateUser, guard.RequireAccess)
	api.DELETE("/users/:id", userHandler.DeleteUser, guard.RequireAdmin)

	api.GET("/users/:id/profile", profileHandler.GetUserProfile, guard.RequireAdmin)
	api.PATCH("/profiles/:id", profileHandler.UpdateProfile, guard.RequireAdmin)
	api.GET("/me/profile", profileHandler.GetMyProfile, guard.RequireAccess)
	api.PATCH("/me/profile", profileHandler.UpdateMyProfile, guard.RequireAccess)

	api.POST("/users/:id/addresses", addressHandler.CreateAddress, guard.RequireAccess)
	api.GET("/users/:id/addresses", addressHandler.GetUserAddresses, guard.RequireAccess)
	api.PATCH("/addresses/:id", addressHandler.UpdateAddress, guard.RequireAdmin)
	api.GET("/me/addresses", addressHandler.GetMyAddresses, guard.RequireAccess)
	api.PATCH("/me/addresses/:id", addressHandler.UpdateMyAddress, guard.RequireAccess)
	api.DELETE("/me/addresses/:id", addressHandler.DeleteMyAddress, guard.RequireAccess)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh, guard.RequireRefresh)
	api.POST("/auth/logout", authHandler.Logout, guard.RequireAccess)

	api.GET("/products", productHandler.GetProducts)
	api.GET("/products/:id", productHandler.GetProduct)
	api.POST("/products", productHandler.CreateProduct, guard.RequireAdmin)
	api.PATCH("/products/:id", productHandler.PatchProduct, guard.RequireAdmin)
	api.DELETE("/products/:id", productHandler.DeleteProduct, guard.RequireAdmin)
	api.POST("/products/:id/image", productHandler.UploadImage, guard.RequireAdmin)

	api.GET("/search", searchHandler.Search)

	api.GET("/categories", categoryHandler.GetCategories)
	api.GET("/categories/:id", categoryHandler.GetCategory)
	api.POST("/categories", categoryHandler.CreateCategory, guard.RequireAdmin)
	api.PATCH("/categories/:id", categoryHandler.PatchCategory, guard.RequireAdmin)

	api.GET("/discounts", discountHandler.GetDiscounts)
	api.POST("/discounts", discountHandler.CreateDiscount, guard.RequireAdmin)
	api.PATCH("/discounts/:id", discountHandler.PatchDiscount, guard.RequireAdmin)
	api.DELETE("/discounts/:id", discountHandler.DeleteDiscount, guard.RequireAdmin)
	api.POST("/discounts/:id/products", discountHandler.AddDiscountProducts, guard.RequireAdmin)
	api.DELETE("/discounts/:id/products", discountHandler.RemoveDiscountProducts, guard.RequireAdmin)

	api.GET("/cart", cartHandler.GetCart, guard.RequireAccess)
	api.POST("/cart", cartHandler.AddToCart, guard.RequireAccess)
	api.DELETE("/cart", cartHandler.RemoveFromCart, guard.RequireAccess)
}
