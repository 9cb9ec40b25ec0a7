package eventstore

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
	ID         int64  `parquet:"name=id, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market     string `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account    string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest     string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every record matching f (Limit is ignored) to path and
// returns the number of rows written.
func (s *Store) ExportParquet(ctx context.Context, path string, f Filter) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("eventstore: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("eventstore: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	cursor := f
	cursor.Limit = maxLimit
	for {
		page, err := s.Query(ctx, cursor)
		if err != nil {
			file.Close()
			return written, err
		}
		for _, rec := range page {
			row := &parquetRow{
				ID:         int64(rec.ID),
				Type:       rec.Type,
				Market:     rec.Market,
				Account:    rec.Account,
				Attributes: rec.Attributes,
				Digest:     rec.Digest,
				CreatedAt:  rec.CreatedAt.Format(time.RFC3339Nano),
			}
			if err := pw.Write(row); err != nil {
				file.Close()
				return written, fmt.Errorf("eventstore: write parquet row: %w", err)
			}
			written++
		}
		if len(page) < cursor.Limit {
			break
		}
		cursor.AfterID = page[len(page)-1].ID
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("eventstore: finalize parquet: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("eventstore: close parquet: %w", err)
	}
	return written, nil
}
