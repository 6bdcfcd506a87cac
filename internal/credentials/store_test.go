package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestStoreRoundTripsThroughDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	_, err = s.Token(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)

	require.NoError(t, s.Save("opaque-token", "admin"))

	raw, err := os.ReadFile(filepath.Join(dir, credentialsFile))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "opaque-token")

	reopened, err := Open(dir)
	require.NoError(t, err)
	tok, err := reopened.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "opaque-token", tok)
	require.Equal(t, "admin", reopened.Role())

	require.NoError(t, reopened.Clear())
	_, err = reopened.Token(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)
	require.NoError(t, reopened.Clear())
}

func TestStoreRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(signedToken(t, now.Add(time.Hour)), "customer"))
	_, err = s.Token(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Save(signedToken(t, now.Add(-time.Minute)), "customer"))
	_, err = s.Token(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestStoreIgnoresCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, credentialsFile), []byte("garbage-that-is-long-enough-to-pass"), 0o600))

	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Token(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestSaveRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.ErrorIs(t, s.Save("  ", "customer"), ErrNoCredentials)
}

func TestStatic(t *testing.T) {
	t.Parallel()

	tok, err := Static("abc").Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", tok)

	_, err = Static("").Token(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestExpiresAt(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := ExpiresAt(signedToken(t, exp))
	require.True(t, ok)
	require.True(t, got.Equal(exp))

	_, ok = ExpiresAt("not-a-jwt")
	require.False(t, ok)
	require.False(t, Expired("not-a-jwt", time.Now()))
}
