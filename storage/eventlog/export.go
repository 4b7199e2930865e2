package eventlog

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
	Sequence    int64  `parquet:"name=sequence, type=INT64"`
	UUID        string `parquet:"name=uuid, type=UTF8"`
	Type        string `parquet:"name=type, type=UTF8"`
	Subject     string `parquet:"name=subject, type=UTF8"`
	Attributes  string `parquet:"name=attributes, type=UTF8"`
	Digest      string `parquet:"name=digest, type=UTF8"`
	CommittedAt string `parquet:"name=committed_at, type=UTF8"`
}

// ExportParquet writes every record matching f to a snappy-compressed parquet
// file at path, paging through the log. It returns the number of rows written.
func (l *Log) ExportParquet(ctx context.Context, path string, f Filter) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("eventlog: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("eventlog: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	page := f
	page.Limit = maxLimit
	for {
		records, err := l.Query(ctx, page)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return written, err
		}
		for _, rec := range records {
			row := &parquetRow{
				Sequence:    int64(rec.ID),
				UUID:        rec.UUID,
				Type:        rec.Type,
				Subject:     rec.Subject,
				Attributes:  rec.Attributes,
				Digest:      rec.Digest,
				CommittedAt: rec.CommittedAt.UTC().Format(time.RFC3339),
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("eventlog: parquet write: %w", err)
			}
			written++
			if f.Limit > 0 && written >= f.Limit {
				break
			}
		}
		if len(records) < page.Limit || (f.Limit > 0 && written >= f.Limit) {
			break
		}
		page.After = records[len(records)-1].ID
	}

	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("eventlog: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("eventlog: close parquet file: %w", err)
	}
	return written, nil
}
