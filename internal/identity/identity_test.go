package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}))
	return db
}

func TestResolveUserByEmail(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&User{ID: "user_1", Email: "ada@example.com", CreatedAt: time.Now()}).Error)

	r := NewResolver(db)

	tests := []struct {
		name    string
		email   string
		want    string
		wantErr error
	}{
		{name: "exact", email: "ada@example.com", want: "user_1"},
		{name: "case and whitespace", email: "  ADA@Example.com ", want: "user_1"},
		{name: "unknown", email: "bob@example.com", wantErr: ErrUserNotFound},
		{name: "empty", email: "   ", wantErr: ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveUserByEmail(context.Background(), tt.email)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
