package exports

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"escrowledger/services/archive"
)

// ParquetRow is the columnar layout of an exported event.
type ParquetRow struct {
	Seq        int64  `parquet:"name=seq, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	EscrowID   int64  `parquet:"name=escrow_id, type=INT64"`
	Height     int64  `parquet:"name=height, type=INT64"`
	Donor      string `parquet:"name=donor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient  string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest     string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordedAt string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteEventsParquet writes records to a snappy-compressed Parquet file.
func WriteEventsParquet(path string, records []archive.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(ParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		evt, err := rec.Event()
		if err != nil {
			pw.WriteStop()
			file.Close()
			return err
		}
		row := &ParquetRow{
			Seq:        int64(rec.Seq),
			Type:       rec.Type,
			EscrowID:   int64(rec.EscrowID),
			Height:     int64(rec.Height),
			Donor:      evt.Attr("donor"),
			Recipient:  evt.Attr("recipient"),
			Amount:     evt.Attr("amount"),
			Attributes: rec.Attributes,
			Digest:     rec.Digest,
			RecordedAt: recordedAt(rec),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
