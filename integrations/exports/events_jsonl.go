package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"escrowledger/services/archive"
)

type jsonlRow struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	EscrowID   uint64            `json:"escrow_id,omitempty"`
	Height     uint64            `json:"height"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	RecordedAt string            `json:"recorded_at,omitempty"`
}

// EventsJSONL builds a JSON Lines export of archived events and returns the
// serialised payload alongside a checksum.
func EventsJSONL(records []archive.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		evt, err := rec.Event()
		if err != nil {
			return nil, "", err
		}
		row := jsonlRow{
			Seq:        rec.Seq,
			Type:       rec.Type,
			EscrowID:   rec.EscrowID,
			Height:     rec.Height,
			Attributes: evt.Attributes,
			Digest:     rec.Digest,
			RecordedAt: recordedAt(rec),
		}
		if err := encoder.Encode(row); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
