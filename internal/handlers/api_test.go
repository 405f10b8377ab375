package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ashabalin/webshop/internal/config"
	"github.com/ashabalin/webshop/internal/hash"
	"github.com/ashabalin/webshop/internal/models"
	"github.com/ashabalin/webshop/internal/tokens"
	transport "github.com/ashabalin/webshop/internal/transport/http"
)

type testAPI struct {
	e     *echo.Echo
	db    *gorm.DB
	codec *tokens.Codec
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))

	codec := &tokens.Codec{
		AccessSecret:  []byte("at-secret"),
		RefreshSecret: []byte("rt-secret"),
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}

	e := echo.New()
	transport.Register(e, transport.Deps{
		DB:        db,
		Codec:     codec,
		UploadDir: t.TempDir(),
	})

	return &testAPI{e: e, db: db, codec: codec}
}

func (a *testAPI) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func (a *testAPI) adminToken(t *testing.T) string {
	t.Helper()

	pwHash, err := hash.HashPassword("admin-pass")
	require.NoError(t, err)
	admin := models.User{
		ID:           uuid.New(),
		Email:        fmt.Sprintf("admin-%s@example.com", uuid.NewString()[:8]),
		PasswordHash: pwHash,
		Role:         "admin",
	}
	require.NoError(t, a.db.Create(&admin).Error)

	token, _, err := a.codec.NewAccessToken(admin.ID.String(), admin.Email, admin.Role)
	require.NoError(t, err)
	return token
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func TestSignupLoginRefreshLogout(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodPost, "/api/users", "", map[string]string{
		"email":    "alice@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID   uuid.UUID    `json:"id"`
		Cart *models.Cart `json:"cart"`
	}
	decode(t, rec, &created)
	require.NotEqual(t, uuid.Nil, created.ID)

	// Wrong password does not leak whether the account exists beyond 401.
	rec = api.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrongpass",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair tokenPair
	decode(t, rec, &pair)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	rec = api.request(t, http.MethodGet, "/api/users/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Email string       `json:"email"`
		Cart  *models.Cart `json:"cart"`
	}
	decode(t, rec, &me)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.NotNil(t, me.Cart)

	// Tokens carry second resolution expiries; step past the boundary so the
	// rotated token differs from the original.
	time.Sleep(1100 * time.Millisecond)

	rec = api.request(t, http.MethodPost, "/api/auth/refresh", pair.RefreshToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair2 tokenPair
	decode(t, rec, &pair2)
	require.NotEqual(t, pair.RefreshToken, pair2.RefreshToken)

	// The superseded refresh token is rejected.
	rec = api.request(t, http.MethodPost, "/api/auth/refresh", pair.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.request(t, http.MethodPost, "/api/auth/logout", pair2.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// After logout, refresh asks for a fresh login.
	rec = api.request(t, http.MethodPost, "/api/auth/refresh", pair2.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "use login instead")
}

func TestSignupValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodPost, "/api/users", "", map[string]string{
		"email":    "not-an-email",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.request(t, http.MethodPost, "/api/users", "", map[string]string{
		"email":    "alice@example.com",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/users/me"},
		{http.MethodGet, "/api/cart"},
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodGet, "/api/users"},
		{http.MethodPost, "/api/products"},
	} {
		rec := api.request(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestAdminOnlyRoutesRejectPlainUsers(t *testing.T) {
	api := newTestAPI(t)

	token, _, err := api.codec.NewAccessToken(uuid.NewString(), "alice@example.com", "user")
	require.NoError(t, err)

	rec := api.request(t, http.MethodPost, "/api/products", token, map[string]interface{}{
		"title": "x", "price": 1.0, "description": "y",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.request(t, http.MethodGet, "/api/users", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProductCRUD(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken(t)

	rec := api.request(t, http.MethodPost, "/api/categories", admin, map[string]string{"title": "books"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cat models.Category
	decode(t, rec, &cat)

	rec = api.request(t, http.MethodPost, "/api/products", admin, map[string]interface{}{
		"title":        "The Go Programming Language",
		"price":        39.99,
		"description":  "The definitive guide",
		"category_ids": []uint{cat.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var prod models.Product
	decode(t, rec, &prod)
	require.NotZero(t, prod.ID)

	// Listing is public and carries category assignments.
	rec = api.request(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Data []struct {
			models.Product
			Categories []models.Category `json:"categories"`
		} `json:"data"`
		Meta struct {
			Total int64 `json:"total"`
		} `json:"meta"`
	}
	decode(t, rec, &listing)
	require.Len(t, listing.Data, 1)
	assert.Equal(t, int64(1), listing.Meta.Total)
	require.Len(t, listing.Data[0].Categories, 1)
	assert.Equal(t, "books", listing.Data[0].Categories[0].Title)

	rec = api.request(t, http.MethodPatch, fmt.Sprintf("/api/products/%d", prod.ID), admin, map[string]interface{}{
		"price": 29.99,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Product
	decode(t, rec, &updated)
	assert.Equal(t, 29.99, updated.Price)
	assert.Equal(t, prod.Title, updated.Title)

	rec = api.request(t, http.MethodDelete, fmt.Sprintf("/api/products/%d", prod.ID), admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.request(t, http.MethodGet, fmt.Sprintf("/api/products/%d", prod.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscountValidation(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken(t)

	base := map[string]interface{}{
		"title":         "summer sale",
		"discount_type": "percentage",
		"amount":        15.0,
		"start_date":    time.Now().Format(time.RFC3339),
		"end_date":      time.Now().Add(72 * time.Hour).Format(time.RFC3339),
		"is_active":     true,
	}

	rec := api.request(t, http.MethodPost, "/api/discounts", admin, base)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	bad := map[string]interface{}{}
	for k, v := range base {
		bad[k] = v
	}
	bad["discount_type"] = "bogus"
	rec = api.request(t, http.MethodPost, "/api/discounts", admin, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Wrong discount_type")

	bad["discount_type"] = "fixed"
	bad["end_date"] = time.Now().Add(-time.Hour).Format(time.RFC3339)
	rec = api.request(t, http.MethodPost, "/api/discounts", admin, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "End date must be after start date")
}

func TestDiscountProductAssignment(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken(t)

	rec := api.request(t, http.MethodPost, "/api/products", admin, map[string]interface{}{
		"title": "widget", "price": 5.0, "description": "a widget",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var prod models.Product
	decode(t, rec, &prod)

	rec = api.request(t, http.MethodPost, "/api/discounts", admin, map[string]interface{}{
		"title":         "widget week",
		"discount_type": "fixed",
		"amount":        1.0,
		"start_date":    time.Now().Format(time.RFC3339),
		"end_date":      time.Now().Add(7 * 24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var disc models.Discount
	decode(t, rec, &disc)

	rec = api.request(t, http.MethodPost, fmt.Sprintf("/api/discounts/%d/products", disc.ID), admin, map[string]interface{}{
		"product_ids": []uint{prod.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Assigning again is a no-op, not a duplicate row.
	rec = api.request(t, http.MethodPost, fmt.Sprintf("/api/discounts/%d/products", disc.ID), admin, map[string]interface{}{
		"product_ids": []uint{prod.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.request(t, http.MethodGet, "/api/discounts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var discounts []struct {
		models.Discount
		Products []models.Product `json:"products"`
	}
	decode(t, rec, &discounts)
	require.Len(t, discounts, 1)
	require.Len(t, discounts[0].Products, 1)
	assert.Equal(t, prod.ID, discounts[0].Products[0].ID)

	rec = api.request(t, http.MethodDelete, fmt.Sprintf("/api/discounts/%d/products", disc.ID), admin, map[string]interface{}{
		"product_ids": []uint{prod.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCartFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken(t)

	rec := api.request(t, http.MethodPost, "/api/users", "", map[string]string{
		"email":    "bob@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "bob@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var pair tokenPair
	decode(t, rec, &pair)

	rec = api.request(t, http.MethodPost, "/api/products", admin, map[string]interface{}{
		"title": "mug", "price": 9.5, "description": "a mug",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var prod models.Product
	decode(t, rec, &prod)

	type cartResponse struct {
		CartID uint `json:"cart_id"`
		Items  []struct {
			models.Product
			Quantity uint `json:"quantity"`
		} `json:"items"`
	}

	rec = api.request(t, http.MethodGet, "/api/cart", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cart cartResponse
	decode(t, rec, &cart)
	assert.Empty(t, cart.Items)

	rec = api.request(t, http.MethodPost, "/api/cart", pair.AccessToken, map[string]interface{}{
		"product_id": prod.ID,
		"quantity":   2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, uint(2), cart.Items[0].Quantity)

	// Adding the same product again bumps the quantity.
	rec = api.request(t, http.MethodPost, "/api/cart", pair.AccessToken, map[string]interface{}{
		"product_id": prod.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, uint(3), cart.Items[0].Quantity)

	rec = api.request(t, http.MethodDelete, "/api/cart", pair.AccessToken, map[string]interface{}{
		"product_id": prod.ID,
		"quantity":   2,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, uint(1), cart.Items[0].Quantity)

	// Removing the remainder drops the row.
	rec = api.request(t, http.MethodDelete, "/api/cart", pair.AccessToken, map[string]interface{}{
		"product_id": prod.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cart)
	assert.Empty(t, cart.Items)

	rec = api.request(t, http.MethodPost, "/api/cart", pair.AccessToken, map[string]interface{}{
		"product_id": uint(99999),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfileLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodPost, "/api/users", "", map[string]string{
		"email":    "dave@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "dave@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var pair tokenPair
	decode(t, rec, &pair)

	// Signup seeds an empty profile with the display defaults.
	rec = api.request(t, http.MethodGet, "/api/me/profile", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var profile models.Profile
	decode(t, rec, &profile)
	assert.Equal(t, "en", profile.Language)
	assert.Equal(t, "USD", profile.Currency)
	assert.Nil(t, profile.FirstName)

	rec = api.request(t, http.MethodPatch, "/api/me/profile", pair.AccessToken, map[string]string{
		"first_name": "Dave",
		"currency":   "EUR",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &profile)
	require.NotNil(t, profile.FirstName)
	assert.Equal(t, "Dave", *profile.FirstName)
	assert.Equal(t, "EUR", profile.Currency)
	assert.Equal(t, "en", profile.Language)

	// By-user and by-profile-id routes are admin only.
	rec = api.request(t, http.MethodGet, "/api/users/"+profile.UserID.String()+"/profile", pair.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := api.adminToken(t)
	rec = api.request(t, http.MethodGet, "/api/users/"+profile.UserID.String()+"/profile", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.request(t, http.MethodPatch, "/api/profiles/"+profile.ID.String(), admin, map[string]string{
		"last_name": "Grohl",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &profile)
	require.NotNil(t, profile.LastName)
	assert.Equal(t, "Grohl", *profile.LastName)
}

func TestAddressLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodPost, "/api/users", "", map[string]string{
		"email":    "erin@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, rec, &created)

	rec = api.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "erin@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var pair tokenPair
	decode(t, rec, &pair)

	rec = api.request(t, http.MethodGet, "/api/me/addresses", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var addresses []models.Address
	decode(t, rec, &addresses)
	assert.Empty(t, addresses)

	rec = api.request(t, http.MethodPost, "/api/users/"+created.ID.String()+"/addresses", pair.AccessToken, map[string]string{
		"label":        "home",
		"address_line": "1 Main St",
		"city":         "Springfield",
		"country":      "US",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var addr models.Address
	decode(t, rec, &addr)
	assert.Equal(t, created.ID, addr.UserID)

	rec = api.request(t, http.MethodPost, "/api/users/"+created.ID.String()+"/addresses", pair.AccessToken, map[string]string{
		"city": "nowhere",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.request(t, http.MethodPatch, "/api/me/addresses/"+addr.ID.String(), pair.AccessToken, map[string]string{
		"postal_code": "12345",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &addr)
	require.NotNil(t, addr.PostalCode)
	assert.Equal(t, "12345", *addr.PostalCode)
	assert.Equal(t, "1 Main St", addr.AddressLine)

	rec = api.request(t, http.MethodGet, "/api/me/addresses", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &addresses)
	require.Len(t, addresses, 1)

	// Another user cannot list, patch or delete erin's addresses.
	otherToken, _, err := api.codec.NewAccessToken(uuid.NewString(), "mallory@example.com", "user")
	require.NoError(t, err)
	rec = api.request(t, http.MethodGet, "/api/users/"+created.ID.String()+"/addresses", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.request(t, http.MethodPatch, "/api/me/addresses/"+addr.ID.String(), otherToken, map[string]string{
		"label": "stolen",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.request(t, http.MethodDelete, "/api/me/addresses/"+addr.ID.String(), otherToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.request(t, http.MethodDelete, "/api/me/addresses/"+addr.ID.String(), pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.request(t, http.MethodDelete, "/api/me/addresses/"+addr.ID.String(), pair.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateUserRules(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodPost, "/api/users", "", map[string]string{
		"email":    "carol@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, rec, &created)

	rec = api.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "carol@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var pair tokenPair
	decode(t, rec, &pair)

	path := "/api/users/" + created.ID.String()

	rec = api.request(t, http.MethodPatch, path, pair.AccessToken, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "At least one field")

	rec = api.request(t, http.MethodPatch, path, pair.AccessToken, map[string]string{
		"new_password": "newsecret",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Current password is required")

	rec = api.request(t, http.MethodPatch, path, pair.AccessToken, map[string]string{
		"current_password": "wrongpass",
		"new_password":     "newsecret",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.request(t, http.MethodPatch, path, pair.AccessToken, map[string]string{
		"current_password": "secret123",
		"new_password":     "newsecret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "carol@example.com",
		"password": "newsecret",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another plain user cannot touch carol's account.
	otherToken, _, err := api.codec.NewAccessToken(uuid.NewString(), "mallory@example.com", "user")
	require.NoError(t, err)
	rec = api.request(t, http.MethodPatch, path, otherToken, map[string]string{
		"email": "stolen@example.com",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
