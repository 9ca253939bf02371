package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const fileTimestampLayout = "20060102_150405"

// Store persists snapshots as JSON documents under a single directory, named
// <hostShortName>_<yyyyMMdd_HHmmss>.json.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes the snapshot atomically and returns the file path. The write
// happens through a temp file plus rename so a crash never leaves a truncated
// rollback anchor behind.
func (s *Store) Save(snap *Snapshot) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory %s: %w", s.dir, err)
	}

	name := fmt.Sprintf("%s_%s.json", HostShortName(snap.Metadata.HostName), snap.Metadata.CapturedAt.Local().Format(fileTimestampLayout))
	path := filepath.Join(s.dir, name)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publishing snapshot file: %w", err)
	}
	return path, nil
}

// Load reads a snapshot file, rejecting documents with unknown fields.
func (s *Store) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	snap := new(Snapshot)
	if err := dec.Decode(snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	if snap.Metadata.HostName == "" {
		return nil, fmt.Errorf("snapshot %s has no host name", path)
	}
	return snap, nil
}

// Latest returns the path of the newest snapshot for the given host, going by
// the timestamp embedded in the file name.
func (s *Store) Latest(hostName string) (string, error) {
	prefix := HostShortName(hostName) + "_"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("listing backup directory %s: %w", s.dir, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".json") {
			stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
			if _, err := time.Parse(fileTimestampLayout, stamp); err == nil {
				candidates = append(candidates, name)
			}
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no snapshot found for host %s in %s", hostName, s.dir)
	}
	sort.Strings(candidates)
	return filepath.Join(s.dir, candidates[len(candidates)-1]), nil
}

// Delete removes a snapshot file. Used only after a clean migration, when the
// rollback anchor is no longer needed.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing snapshot %s: %w", path, err)
	}
	return nil
}
