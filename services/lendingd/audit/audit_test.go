package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"lendmarket/native/lending"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	log, err := New(db)
	require.NoError(t, err)
	log.now = func() time.Time { return time.Unix(1_700_000_100, 0) }
	return log
}

func sampleEvents() []lending.Event {
	return []lending.Event{
		{ID: uuid.NewString(), Type: lending.EventDeposit, Height: 9, Time: 1_700_000_000, Attributes: map[string]string{"account": "lend1x"}},
		{ID: uuid.NewString(), Type: lending.EventLiquidated, Height: 10, Time: 1_700_000_005, Attributes: map[string]string{
			"liquidator": "lend1liq", "borrower": "lend1bor", "asset": "BTC",
			"repaid": "100", "seized": "110", "full": "true",
		}},
		{ID: uuid.NewString(), Type: lending.EventSocialized, Height: 10, Time: 1_700_000_005, Attributes: map[string]string{
			"borrower": "lend1bor", "loss": "50", "fromReserve": "20", "fromStakers": "30", "diluted": "0",
		}},
		{ID: uuid.NewString(), Type: lending.EventLiquidated, Height: 12, Time: 1_700_000_015, Attributes: map[string]string{
			"liquidator": "lend1liq", "borrower": "lend1other", "asset": "BTC",
			"repaid": "5", "seized": "6", "full": "false",
		}},
	}
}

func TestFromEvent(t *testing.T) {
	events := sampleEvents()
	_, ok := FromEvent(events[0])
	require.False(t, ok)

	rec, ok := FromEvent(events[1])
	require.True(t, ok)
	require.Equal(t, KindLiquidation, rec.Kind)
	require.True(t, rec.Full)
	require.Equal(t, "110", rec.Seized)
	require.Equal(t, time.Unix(1_700_000_005, 0).UTC(), rec.BlockTime)

	rec, ok = FromEvent(events[2])
	require.True(t, ok)
	require.Equal(t, KindSocialization, rec.Kind)
	require.Equal(t, "30", rec.FromStakers)
}

func TestAppendAndList(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	n, err := log.Append(ctx, sampleEvents())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = log.Append(ctx, sampleEvents()[:1])
	require.NoError(t, err)
	require.Zero(t, n)

	all, err := log.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, uint64(12), all[0].Height)

	mine, err := log.List(ctx, Query{Borrower: "lend1bor"})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	liqs, err := log.List(ctx, Query{Kind: KindLiquidation, Limit: 1})
	require.NoError(t, err)
	require.Len(t, liqs, 1)
	require.Equal(t, "lend1other", liqs[0].Borrower)

	recent, err := log.List(ctx, Query{SinceTime: time.Unix(1_700_000_010, 0)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestExportParquet(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()
	_, err := log.Append(ctx, sampleEvents())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "audit.parquet")
	n, err := log.Export(ctx, path, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())

	rows := make([]parquetRow, 3)
	require.NoError(t, pr.Read(&rows))
	require.ElementsMatch(t, []string{KindLiquidation, KindSocialization}, []string{rows[0].Kind, rows[1].Kind})
	require.Equal(t, int64(10), rows[0].Height)
	require.Equal(t, "lend1other", rows[2].Borrower)
}
