package dates

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Compact(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultOffset, nil)

	got, err := n.Normalize("21071990", EncodingCompact)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(1990, 7, 21, 3, 0, 0, 0, time.UTC), *got)
}

func TestNormalizer_CompactRejects(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultOffset, nil)

	cases := map[string]error{
		"30021999":  ErrInvalidCalendarDate,
		"31041999":  ErrInvalidCalendarDate,
		"00011999":  ErrOutOfRange,
		"01131999":  ErrOutOfRange,
		"01011899":  ErrOutOfRange,
		"01012101":  ErrOutOfRange,
		"1071990":   ErrInvalidFormat,
		"210719900": ErrInvalidFormat,
		"21-07-90":  ErrInvalidFormat,
		"2107199a":  ErrInvalidFormat,
	}

	for input, want := range cases {
		got, err := n.Normalize(input, EncodingCompact)
		assert.Nil(t, got, input)

		var parseErr *ParseError
		require.True(t, errors.As(err, &parseErr), input)
		assert.ErrorIs(t, err, want, input)
		assert.Equal(t, EncodingCompact, parseErr.Encoding)
	}
}

func TestNormalizer_LDAP(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultOffset, nil)

	got, err := n.Normalize("20190219030000.0Z", EncodingLDAP)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 2, 19, 3, 0, 0, 0, time.UTC), *got)

	_, err = n.Normalize("20190219", EncodingLDAP)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = n.Normalize("20191319030000.0Z", EncodingLDAP)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestNormalizer_ISO(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultOffset, nil)

	got, err := n.Normalize("2019-02-19T03:00:00Z", EncodingISO8601)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 2, 19, 6, 0, 0, 0, time.UTC), *got)

	got, err = n.Normalize("2019-02-19", EncodingISO8601)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 2, 19, 3, 0, 0, 0, time.UTC), *got)

	got, err = n.Normalize("not-a-date", EncodingISO8601)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNormalizer_EmptyIsNoValue(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultOffset, nil)

	got, err := n.Normalize("   ", EncodingCompact)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestNormalizer_UnknownEncoding(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultOffset, nil)

	_, err := n.Normalize("21071990", Encoding("julian"))
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestNormalizer_ConfigurableOffsetAndLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("BRT", -3*60*60)
	n := NewNormalizer(0, loc)

	got, err := n.Normalize("21071990", EncodingCompact)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1990, 7, 21, 3, 0, 0, 0, time.UTC), *got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestNormalizer_FirstDoesNotFallBack(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultOffset, nil)

	preferredBroken := RawDate{Value: "garbage", Encoding: EncodingISO8601}
	legacy := RawDate{Value: "20190219030000.0Z", Encoding: EncodingLDAP}

	got, err := n.First(preferredBroken, legacy)
	assert.Nil(t, got)
	assert.Error(t, err)

	got, err = n.First(RawDate{Encoding: EncodingISO8601}, legacy)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 2, 19, 3, 0, 0, 0, time.UTC), *got)

	got, err = n.First()
	assert.NoError(t, err)
	assert.Nil(t, got)
}
