package store

import (
	"database/sql"
	"fmt"
)

// ClientLabel is a user-assigned display name for a satellite, keyed by MAC.
type ClientLabel struct {
	MAC   string `json:"mac_addr"`
	Label string `json:"label"`
}

// ListClientLabels returns all stored labels. Reads never fail outward.
func (s *Store) ListClientLabels() []ClientLabel {
	rows, err := s.db.Query(`SELECT mac_addr, label FROM clients ORDER BY mac_addr`)
	if err != nil {
		s.log.Error().Err(err).Msg("client label read failed")
		return nil
	}
	defer rows.Close()

	var labels []ClientLabel
	for rows.Next() {
		var cl ClientLabel
		if err := rows.Scan(&cl.MAC, &cl.Label); err != nil {
			s.log.Error().Err(err).Msg("client label scan failed")
			continue
		}
		labels = append(labels, cl)
	}
	if err := rows.Err(); err != nil {
		s.log.Error().Err(err).Msg("client label iteration failed")
	}
	return labels
}

// LabelByMAC returns the stored label for mac, or "".
func (s *Store) LabelByMAC(mac string) string {
	var label string
	err := s.db.QueryRow(`SELECT label FROM clients WHERE mac_addr = ?`, mac).Scan(&label)
	if err != nil && err != sql.ErrNoRows {
		s.log.Error().Err(err).Str("mac", mac).Msg("label lookup failed")
	}
	return label
}

// UpsertClientLabel stores or replaces the label for mac.
func (s *Store) UpsertClientLabel(mac, label string) error {
	if mac == "" {
		return &ValidationError{Field: "mac_addr", Reason: "must not be empty"}
	}
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO clients (mac_addr, label) VALUES (?, ?)
			 ON CONFLICT (mac_addr) DO UPDATE SET label = excluded.label`,
			mac, label)
		if err != nil {
			return fmt.Errorf("upsert label for %s: %w", mac, err)
		}
		return nil
	})
}
