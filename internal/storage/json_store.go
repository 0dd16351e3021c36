package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JSONBackup writes collection snapshots to dir before destructive
// maintenance. Files are written to a temp name and renamed into place.
type JSONBackup struct {
	dir string
}

func NewJSONBackup(dir string) (*JSONBackup, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JSONBackup{dir: dir}, nil
}

// Save encodes data as <name>-<timestamp>.json and returns the final path.
func (b *JSONBackup) Save(name string, data interface{}, now time.Time) (string, error) {
	path := filepath.Join(b.dir, fmt.Sprintf("%s-%s.json", name, now.UTC().Format("20060102T150405Z")))
	tmp := path + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Load decodes a backup written by Save.
func (b *JSONBackup) Load(path string, data interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(data)
}
