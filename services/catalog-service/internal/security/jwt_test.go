package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateValidate(t *testing.T) {
	m, err := NewJWTManager("secret", time.Hour, "gomarket")
	require.NoError(t, err)

	token, err := m.Generate("u1", []string{"sup-1"}, []string{RoleCatalogManager})
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.True(t, m.HasRole(claims, RoleCatalogManager))
	assert.False(t, m.HasRole(claims, RoleSupplierManager))
	assert.True(t, claims.CanAccessSupplier("sup-1"))
	assert.False(t, claims.CanAccessSupplier("sup-2"))
}

func TestJWTManager_Rejects(t *testing.T) {
	m, err := NewJWTManager("secret", time.Hour, "gomarket")
	require.NoError(t, err)

	other, err := NewJWTManager("other", time.Hour, "gomarket")
	require.NoError(t, err)
	foreign, err := other.Generate("u1", nil, nil)
	require.NoError(t, err)

	expiredManager, err := NewJWTManager("secret", -time.Minute, "gomarket")
	require.NoError(t, err)
	expired, err := expiredManager.Generate("u1", nil, nil)
	require.NoError(t, err)

	wrongIssuer, err := NewJWTManager("secret", time.Hour, "elsewhere")
	require.NoError(t, err)
	issued, err := wrongIssuer.Generate("u1", nil, nil)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u1", "iss": "gomarket"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "чужой секрет", token: foreign, wantErr: ErrInvalidToken},
		{name: "истек", token: expired, wantErr: ErrExpiredToken},
		{name: "другой издатель", token: issued, wantErr: ErrInvalidToken},
		{name: "без подписи", token: none, wantErr: ErrInvalidToken},
		{name: "мусор", token: "abc", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = NewJWTManager("", time.Hour, "gomarket")
	assert.Error(t, err)
}

func TestJWTManager_AdminSeesAllSuppliers(t *testing.T) {
	m, err := NewJWTManager("secret", time.Hour, "gomarket")
	require.NoError(t, err)

	claims := &Claims{SupplierIDs: []string{"sup-1"}, Roles: []string{RoleAdmin}}
	assert.True(t, claims.CanAccessSupplier("sup-2"))
	assert.True(t, m.HasRole(claims, RoleSupplierManager))
	assert.True(t, (&Claims{}).CanAccessSupplier("sup-2"))
}
