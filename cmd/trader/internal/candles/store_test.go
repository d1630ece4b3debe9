package candles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davin77/binotrade/pkg/models"
)

func bar(ts int64, close float64) models.Candle {
	return models.Candle{Open: close, High: close, Low: close, Close: close, Timestamp: ts}
}

func TestStore_BootstrapThenQuery(t *testing.T) {
	st := NewStore()
	err := st.Bootstrap("EURUSD", 60, []models.Candle{
		bar(1020, 1.10),
		bar(1080, 1.11),
		bar(1140, 1.12),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, st.Count("EURUSD", 60))

	c, ok := st.Candle("EURUSD", 60, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1140), c.Timestamp)

	c, ok = st.Candle("EURUSD", 60, 2)
	require.True(t, ok)
	assert.Equal(t, int64(1020), c.Timestamp)

	c, ok = st.CandleAt("EURUSD", 60, 1080)
	require.True(t, ok)
	assert.Equal(t, 1.11, c.Close)

	_, ok = st.CandleAt("EURUSD", 60, 999)
	assert.False(t, ok)

	price, ok := st.LatestPrice("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.12, price)
}

func TestStore_BootstrapRejectsOutOfOrderBars(t *testing.T) {
	st := NewStore()
	err := st.Bootstrap("EURUSD", 60, []models.Candle{
		bar(1080, 1.11),
		bar(1020, 1.10),
	})
	assert.Error(t, err)
}

func TestStore_RecentReturnsNewestAscending(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Bootstrap("EURUSD", 60, []models.Candle{
		bar(1020, 1.10), bar(1080, 1.11), bar(1140, 1.12), bar(1200, 1.13),
	}))

	got := st.Recent("EURUSD", 60, 2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1140), got[0].Timestamp)
	assert.Equal(t, int64(1200), got[1].Timestamp)

	assert.Len(t, st.Recent("EURUSD", 60, 10), 4)
	assert.Nil(t, st.Recent("GBPUSD", 60, 2))
}

func TestStore_LatestPricePrefersSmallestPeriod(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Bootstrap("EURUSD", 300, []models.Candle{bar(1200, 2.0)}))
	require.NoError(t, st.Bootstrap("EURUSD", 60, []models.Candle{bar(1080, 1.0)}))

	price, ok := st.LatestPrice("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.0, price)

	_, ok = st.LatestPrice("NOPE")
	assert.False(t, ok)
}
