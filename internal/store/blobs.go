package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Blob types whose JSON the server stores but never interprets.
const (
	BlobWas      = "was"
	BlobMultinet = "multinet"
)

// ReadBlob returns the stored JSON for an opaque record, or nil when unset.
func (s *Store) ReadBlob(blobType string) json.RawMessage {
	if blobType != BlobWas && blobType != BlobMultinet {
		s.log.Error().Str("type", blobType).Msg("unknown blob type")
		return nil
	}

	var value string
	err := s.db.QueryRow(
		`SELECT config_value FROM config WHERE config_type = ? AND config_name = 'blob'`,
		blobType).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.log.Error().Err(err).Str("type", blobType).Msg("blob read failed")
		return nil
	}
	return json.RawMessage(value)
}

// WriteBlob stores raw JSON under an opaque record, replacing any prior value.
func (s *Store) WriteBlob(blobType string, raw json.RawMessage) error {
	if blobType != BlobWas && blobType != BlobMultinet {
		return fmt.Errorf("unknown blob type %q", blobType)
	}
	if !json.Valid(raw) {
		return &ValidationError{Field: blobType, Reason: "not valid JSON"}
	}
	return s.inTx(func(tx *sql.Tx) error {
		return upsertValue(tx, blobType, "blob", "", string(raw))
	})
}
