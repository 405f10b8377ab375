package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"  json:"id"`
	Email        string    `gorm:"uniqueIndex;not null"  json:"email"`
	PasswordHash string    `gorm:"not null"              json:"-"`
	// nil means no active session; overwritten on login/refresh, cleared on logout.
	RefreshTokenHash *string `json:"-"`
	Role             string  `gorm:"not null;default:user" json:"role"`
}

// Profile is created together with its user and carries display
// preferences; every column except language and currency is optional.
type Profile struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"           json:"id"`
	UserID      uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	FirstName   *string    `json:"first_name"`
	LastName    *string    `json:"last_name"`
	PhoneNumber *string    `json:"phone_number"`
	BirthDate   *time.Time `json:"birth_date"`
	Language    string     `gorm:"not null;default:en"  json:"language"`
	Currency    string     `gorm:"not null;default:USD" json:"currency"`
}

type Address struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"     json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	Label       *string   `json:"label"`
	AddressLine string    `gorm:"not null" json:"address_line"`
	City        *string   `json:"city"`
	PostalCode  *string   `json:"postal_code"`
	Country     *string   `json:"country"`
}

type Product struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string  `gorm:"not null"                 json:"title"`
	Price       float64 `gorm:"not null"                 json:"price"`
	Description string  `gorm:"not null"                 json:"description"`
	Image       *string `json:"image"`
}

type Category struct {
	ID    uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Title string `gorm:"not null"                 json:"title"`
}

type ProductCategory struct {
	ProductID  uint `gorm:"primaryKey" json:"product_id"`
	CategoryID uint `gorm:"primaryKey" json:"category_id"`
}

type Discount struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Title        string    `gorm:"not null"                 json:"title"`
	DiscountType string    `gorm:"not null"                 json:"discount_type"`
	Amount       float64   `gorm:"not null"                 json:"amount"`
	StartDate    time.Time `gorm:"not null"                 json:"start_date"`
	EndDate      time.Time `gorm:"not null"                 json:"end_date"`
	IsActive     bool      `gorm:"default:false"            json:"is_active"`
	AppliesToAll bool      `gorm:"default:false"            json:"applies_to_all"`
}

type DiscountProduct struct {
	DiscountID uint `gorm:"primaryKey" json:"discount_id"`
	ProductID  uint `gorm:"primaryKey" json:"product_id"`
}

type Cart struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CartProduct struct {
	CartID    uint `gorm:"primaryKey"                 json:"cart_id"`
	ProductID uint `gorm:"primaryKey"                 json:"product_id"`
	Quantity  uint `gorm:"default:1;check:quantity>0" json:"quantity"`
}
