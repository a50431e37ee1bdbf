package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"escrowledger/services/archive"
)

var csvHeader = []string{"seq", "type", "escrow_id", "height", "attributes", "digest", "recorded_at"}

// EventsCSV builds a CSV export of archived events and returns the serialised
// data alongside a SHA-256 checksum of the payload.
func EventsCSV(records []archive.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatUint(rec.Seq, 10),
			rec.Type,
			strconv.FormatUint(rec.EscrowID, 10),
			strconv.FormatUint(rec.Height, 10),
			rec.Attributes,
			rec.Digest,
			recordedAt(rec),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func recordedAt(rec archive.Record) string {
	if rec.RecordedAt.IsZero() {
		return ""
	}
	return rec.RecordedAt.UTC().Format(time.RFC3339Nano)
}
