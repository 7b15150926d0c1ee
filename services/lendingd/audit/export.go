package audit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID          string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind        string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Height      int64  `parquet:"name=height, type=INT64"`
	BlockTime   string `parquet:"name=block_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Borrower    string `parquet:"name=borrower, type=BYTE_ARRAY, convertedtype=UTF8"`
	Liquidator  string `parquet:"name=liquidator, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset       string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Repaid      string `parquet:"name=repaid, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seized      string `parquet:"name=seized, type=BYTE_ARRAY, convertedtype=UTF8"`
	Full        bool   `parquet:"name=full, type=BOOLEAN"`
	Loss        string `parquet:"name=loss, type=BYTE_ARRAY, convertedtype=UTF8"`
	FromReserve string `parquet:"name=from_reserve, type=BYTE_ARRAY, convertedtype=UTF8"`
	FromStakers string `parquet:"name=from_stakers, type=BYTE_ARRAY, convertedtype=UTF8"`
	Diluted     string `parquet:"name=diluted, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Export writes every record at or after since to a parquet file and returns
// the row count.
func (l *Log) Export(ctx context.Context, path string, since time.Time) (int, error) {
	tx := l.db.WithContext(ctx).Model(&Record{})
	if !since.IsZero() {
		tx = tx.Where("block_time >= ?", since.UTC())
	}
	var records []Record
	if err := tx.Order("height asc").Order("created_at asc").Find(&records).Error; err != nil {
		return 0, fmt.Errorf("audit: export query: %w", err)
	}
	if err := writeParquet(path, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func writeParquet(path string, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &parquetRow{
			ID:          rec.ID,
			Kind:        rec.Kind,
			Height:      int64(rec.Height),
			BlockTime:   rec.BlockTime.UTC().Format(time.RFC3339),
			Borrower:    rec.Borrower,
			Liquidator:  rec.Liquidator,
			Asset:       rec.Asset,
			Repaid:      rec.Repaid,
			Seized:      rec.Seized,
			Full:        rec.Full,
			Loss:        rec.Loss,
			FromReserve: rec.FromReserve,
			FromStakers: rec.FromStakers,
			Diluted:     rec.Diluted,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}
