package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "nestlog.identity"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"iss":       testConfig.Issuer,
		"sub":       "parent-1",
		"family_id": "fam-1",
		"scopes":    []string{ScopeRecordsRead, ScopeRecordsWrite},
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(signed, testConfig)
	require.NoError(t, err)
	require.Equal(t, "parent-1", claims.Subject)
	require.Equal(t, "fam-1", claims.FamilyID)
	require.True(t, claims.HasScope(ScopeRecordsRead))
	require.False(t, claims.HasScope(ScopeSharesManage))
}

func TestParseRejectsTokenWithoutExpiry(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"iss":       testConfig.Issuer,
		"sub":       "parent-1",
		"family_id": "fam-1",
	})

	claims, err := Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Nil(t, claims)
}

func TestParseRejectsMissingFamilyID(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"iss": testConfig.Issuer,
		"sub": "parent-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"iss":       "someone-else",
		"sub":       "parent-1",
		"family_id": "fam-1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseNormalizesSpaceSeparatedScopes(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"iss":       testConfig.Issuer,
		"sub":       "parent-1",
		"family_id": "fam-1",
		"scopes":    "records:read  shares:manage",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(signed, testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeRecordsRead))
	require.True(t, claims.HasScope(ScopeSharesManage))
	require.False(t, claims.HasScope(ScopeRecordsWrite))
}
