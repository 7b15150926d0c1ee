package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLendingMetrics(t *testing.T) {
	m := Lending()
	require.Same(t, m, Lending())

	before := testutil.ToFloat64(m.liquidations.WithLabelValues("full"))
	m.RecordLiquidation(true)
	require.Equal(t, before+1, testutil.ToFloat64(m.liquidations.WithLabelValues("full")))

	m.SetMarket(big.NewInt(1_000), big.NewInt(700), big.NewInt(10), big.NewInt(310))
	require.InDelta(t, 0.7, testutil.ToFloat64(m.utilization), 1e-9)
	m.SetMarket(big.NewInt(0), big.NewInt(0), nil, nil)
	require.Zero(t, testutil.ToFloat64(m.utilization))

	errsBefore := testutil.ToFloat64(m.errors.WithLabelValues("/v1/borrow", "20002"))
	m.Observe("/v1/borrow", 409, 20002, time.Millisecond)
	require.Equal(t, errsBefore+1, testutil.ToFloat64(m.errors.WithLabelValues("/v1/borrow", "20002")))

	lossBefore := testutil.ToFloat64(m.socialized.WithLabelValues("dilution"))
	m.RecordSocialized(big.NewInt(5), big.NewInt(6), big.NewInt(7))
	require.Equal(t, lossBefore+7, testutil.ToFloat64(m.socialized.WithLabelValues("dilution")))

	var nilMetrics *LendingMetrics
	nilMetrics.RecordThrottle("rate_limit")
}

func TestEventMetrics(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues("lending.deposit"))
	m.RecordEvent(" Lending.Deposit ")
	require.Equal(t, before+1, testutil.ToFloat64(m.emitted.WithLabelValues("lending.deposit")))
}
