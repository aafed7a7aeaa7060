// Package persist stores the consolidated inventory as a single versioned
// JSON document and reloads it at startup.
package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdDecoder, _ = zstd.NewReader(nil)
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
)

// File is the durable copy of the inventory.
type File struct {
	path     string
	compress bool
}

// NewFile returns a File at path. When compress is set, documents are written
// zstd-compressed; Load accepts either form regardless.
func NewFile(path string, compress bool) *File {
	return &File{path: path, compress: compress}
}

// Path returns the canonical document path.
func (f *File) Path() string { return f.path }

// Load reads the document, migrating older layouts in memory. It never fails:
// a missing, unreadable or corrupt document yields an empty map. The file on
// disk is not modified.
func (f *File) Load() map[string]*model.MachineRecord {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no existing state, starting fresh", "path", f.path)
		return make(map[string]*model.MachineRecord)
	}
	if err != nil {
		slog.Error("reading state, starting empty", "path", f.path, "error", err)
		return make(map[string]*model.MachineRecord)
	}

	machines, applied, err := Decode(data)
	if err != nil {
		slog.Error("decoding state, starting empty", "path", f.path, "error", err)
		return make(map[string]*model.MachineRecord)
	}
	if len(applied) > 0 {
		slog.Info("migrated legacy state in memory", "path", f.path, "steps", applied)
	}
	slog.Info("loaded state", "path", f.path, "machines", len(machines))
	return machines
}

// Save writes machines as one document using write-temp-then-rename, so a
// concurrent reader of Path sees either the previous or the new document.
func (f *File) Save(machines map[string]*model.MachineRecord) error {
	data, err := Encode(machines)
	if err != nil {
		return fmt.Errorf("persisting state: %w", err)
	}
	if f.compress {
		data = zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/4))
	}
	if err := WriteFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("persisting state: %w", err)
	}
	return nil
}

type currentDocument struct {
	Version  int                             `json:"version"`
	Machines map[string]*model.MachineRecord `json:"machines"`
}

// Encode renders machines in the current layout.
func Encode(machines map[string]*model.MachineRecord) ([]byte, error) {
	if machines == nil {
		machines = make(map[string]*model.MachineRecord)
	}
	data, err := json.MarshalIndent(currentDocument{Version: CurrentVersion, Machines: machines}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

// Decode parses a document in any recognized layout and returns the machines
// plus the names of the migration steps that were applied.
func Decode(data []byte) (map[string]*model.MachineRecord, []string, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("decompressing state: %w", err)
		}
		data = plain
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing state: %w", err)
	}
	if doc == nil {
		return nil, nil, fmt.Errorf("parsing state: %w", ErrUnrecognizedLayout)
	}

	doc, applied, err := migrate(doc)
	if err != nil {
		return nil, applied, err
	}

	var machines map[string]*model.MachineRecord
	dec := json.NewDecoder(bytes.NewReader(doc["machines"]))
	dec.UseNumber()
	if err := dec.Decode(&machines); err != nil {
		return nil, applied, fmt.Errorf("decoding machines: %w", err)
	}

	out := make(map[string]*model.MachineRecord, len(machines))
	for id, m := range machines {
		if m == nil {
			continue
		}
		m.MachineID = id
		if m.Info == nil {
			m.Info = make(map[string]any)
		}
		if m.Disks == nil {
			m.Disks = make(map[string]json.RawMessage)
		}
		out[id] = m
	}
	return out, applied, nil
}

// WriteFileAtomic writes data to a temporary file in path's directory, syncs
// it and renames it over path. The directory is created if absent.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}

	// Best effort: persist the rename itself.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
