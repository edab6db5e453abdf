// Package identity resolves billing-side identity hints to local user ids.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user_not_found")

// User is the minimal account row used for email fallback resolution.
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(191)"`
	Email     string    `gorm:"type:varchar(191);not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

type Resolver interface {
	ResolveUserByEmail(ctx context.Context, email string) (string, error)
}

var Module = fx.Module("identity",
	fx.Provide(NewResolver),
)

type resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) Resolver {
	return &resolver{db: db}
}

// ResolveUserByEmail matches case-insensitively on the trimmed address.
func (r *resolver) ResolveUserByEmail(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", ErrUserNotFound
	}

	var user User
	err := r.db.WithContext(ctx).
		Select("id").
		Where("LOWER(email) = ?", email).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
