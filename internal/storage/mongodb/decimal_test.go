package mongodb

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDecimal128RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []string{"19.99", "59.97", "0", "0.01", "1234567890.12", "10"}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			want := decimal.RequireFromString(raw)

			stored, err := toDecimal128(want)
			require.NoError(t, err)

			got, err := fromDecimal128(stored)
			require.NoError(t, err)
			require.True(t, got.Equal(want), "got %s, want %s", got, want)
		})
	}
}

func TestFromDecimal128RejectsNaN(t *testing.T) {
	t.Parallel()

	nan, err := primitive.ParseDecimal128("NaN")
	require.NoError(t, err)

	_, err = fromDecimal128(nan)
	require.Error(t, err)
}
