package token

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec("test-secret")
	expiry := time.Now().Add(1 * time.Hour)

	raw, err := codec.Encode("ticket-123", 3, expiry)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := codec.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "ticket-123", claims.TicketID)
	assert.Equal(t, int64(3), claims.Version)
	assert.WithinDuration(t, expiry, claims.ExpiresAt.Time, time.Second)
}

func TestCodec_Expired(t *testing.T) {
	codec := NewCodec("test-secret")

	raw, err := codec.Encode("ticket-123", 0, time.Now().Add(-1*time.Minute))
	require.NoError(t, err)

	_, err = codec.Decode(raw)
	require.Error(t, err)

	var invalid *InvalidTokenError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, ReasonExpired, invalid.Reason)
}

func TestCodec_SignatureMismatch(t *testing.T) {
	codec := NewCodec("test-secret")
	other := NewCodec("other-secret")

	raw, err := other.Encode("ticket-123", 0, time.Now().Add(1*time.Hour))
	require.NoError(t, err)

	_, err = codec.Decode(raw)
	require.Error(t, err)

	var invalid *InvalidTokenError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, ReasonSignatureMismatch, invalid.Reason)
}

func TestCodec_Malformed(t *testing.T) {
	codec := NewCodec("test-secret")

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		_, err := codec.Decode(raw)
		require.Error(t, err)

		var invalid *InvalidTokenError
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, ReasonMalformed, invalid.Reason)
	}
}

func TestCodec_VersionBumpInvalidatesOldToken(t *testing.T) {
	codec := NewCodec("test-secret")
	expiry := time.Now().Add(1 * time.Hour)

	old, err := codec.Encode("ticket-123", 0, expiry)
	require.NoError(t, err)

	// The old token still decodes, but carries the old version; the
	// validator rejects it against the bumped stored version.
	claims, err := codec.Decode(old)
	require.NoError(t, err)
	assert.Equal(t, int64(0), claims.Version)

	fresh, err := codec.Encode("ticket-123", 1, expiry)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)
}
