package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_QuotesDefaultEverywhere(t *testing.T) {
	src := Static{Default: Quote{Rate: decimal.RequireFromString("0.10"), Currency: "usd", PayoutAccount: "acct_garage"}}

	for _, floor := range []string{"L1", "L2", ""} {
		q, err := src.Quote(context.Background(), "garage-1", floor)
		require.NoError(t, err)
		assert.Equal(t, "0.10", q.Rate.StringFixed(2))
		assert.Equal(t, "usd", q.Currency)
		assert.Equal(t, "acct_garage", q.PayoutAccount)
	}
}

func TestSource_Interface(t *testing.T) {
	var _ Source = Static{}
	var _ Source = (*PostgresSource)(nil)
}
