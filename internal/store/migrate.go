package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Legacy JSON files from file-backed deployments, ingested once when the
// store is empty. Ingested files are renamed with an .imported suffix so a
// wiped store does not re-ingest stale settings by surprise.
const (
	legacyConfigFile   = "user_config.json"
	legacyNVSFile      = "user_nvs.json"
	legacyMultinetFile = "user_multinet.json"
	legacyWasFile      = "user_was.json"
	legacyClientsFile  = "user_client_config.json"
)

// MigrateLegacy ingests legacy JSON settings files from dir into the store.
// It is a no-op when the store already holds config rows. Per-file failures
// are logged and skipped; the migration itself never aborts startup.
func (s *Store) MigrateLegacy(dir string) error {
	if dir == "" {
		return nil
	}
	if s.HasConfig() {
		return nil
	}

	type step struct {
		file   string
		ingest func(raw []byte) error
	}

	steps := []step{
		{legacyConfigFile, func(raw []byte) error {
			var partial map[string]json.RawMessage
			if err := json.Unmarshal(raw, &partial); err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			return s.WriteConfig(partial)
		}},
		{legacyNVSFile, func(raw []byte) error {
			var nvs NVS
			if err := json.Unmarshal(raw, &nvs); err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			return s.WriteNVS(&nvs)
		}},
		{legacyMultinetFile, func(raw []byte) error {
			return s.WriteBlob(BlobMultinet, raw)
		}},
		{legacyWasFile, func(raw []byte) error {
			return s.WriteBlob(BlobWas, raw)
		}},
		{legacyClientsFile, func(raw []byte) error {
			var labels []ClientLabel
			if err := json.Unmarshal(raw, &labels); err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			for _, cl := range labels {
				if cl.MAC == "" {
					continue
				}
				if err := s.UpsertClientLabel(cl.MAC, cl.Label); err != nil {
					return err
				}
			}
			return nil
		}},
	}

	migrated := 0
	for _, st := range steps {
		path := filepath.Join(dir, st.file)
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("file", path).Msg("legacy file unreadable, skipping")
			continue
		}

		if err := st.ingest(raw); err != nil {
			s.log.Error().Err(err).Str("file", path).Msg("legacy ingest failed, skipping")
			continue
		}

		if err := os.Rename(path, path+".imported"); err != nil {
			s.log.Warn().Err(err).Str("file", path).Msg("could not rename ingested legacy file")
		}
		migrated++
		s.log.Info().Str("file", st.file).Msg("legacy settings ingested")
	}

	if migrated > 0 {
		s.log.Info().Int("files", migrated).Msg("legacy migration complete")
	}
	return nil
}
