package secrets

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mcphub/hub/pkg/errs"
)

// Rotate re-encrypts every record under a freshly generated master key
// (spec §4.10). Records are first re-encrypted to sibling ".new" files and
// the master key to "master.key.new"; both are only renamed into place
// once every record has been rewritten, so a crash mid-rotation leaves the
// store in its pre-rotation (still fully valid) state rather than a
// half-migrated one.
func (s *Store) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "listing secrets directory")
	}

	var newKey [masterKeySize]byte
	if _, err := rand.Read(newKey[:]); err != nil {
		return errs.Wrap(errs.KindInternal, err, "generating rotated master key")
	}

	type pending struct{ finalPath, tmpPath string }
	var staged []pending

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "reading secret record during rotation")
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return errs.Wrap(errs.KindIntegrity, err, "integrity-check-failed")
		}

		plaintext, err := s.decryptLocked(&record)
		if err != nil {
			return errs.Wrap(errs.KindIntegrity, err, "rotation aborted: integrity-check-failed on "+record.Name)
		}

		rotated, err := encryptRecord(newKey, record.Name, plaintext, record.Labels, record.CreatedAt)
		if err != nil {
			return err
		}

		tmpPath := path + ".new"
		if err := writeRecord(tmpPath, rotated); err != nil {
			return err
		}
		staged = append(staged, pending{finalPath: path, tmpPath: tmpPath})
	}

	tmpKeyPath := filepath.Join(s.baseDir, masterKeyFile+".new")
	if err := os.WriteFile(tmpKeyPath, newKey[:], 0o600); err != nil {
		return errs.Wrap(errs.KindInternal, err, "writing rotated master key")
	}

	keyPath := filepath.Join(s.baseDir, masterKeyFile)
	if err := os.Rename(tmpKeyPath, keyPath); err != nil {
		return errs.Wrap(errs.KindInternal, err, "activating rotated master key")
	}
	for _, p := range staged {
		if err := os.Rename(p.tmpPath, p.finalPath); err != nil {
			return errs.Wrap(errs.KindInternal, err, "activating rotated secret record")
		}
	}

	s.masterKey = newKey
	return nil
}
