package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend はスナップショットをJSONファイルとして保存するバックエンド。
// 書き込みは一時ファイル + renameで行い、読み手に部分書き込みが見えないことを保証する。
type FileBackend struct {
	path string
}

// NewFileBackend はFileBackendを生成する。
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load はJSONファイルからスナップショットを読み込む。
// ファイルが存在しない場合は空のスナップショットを返す。
func (b *FileBackend) Load() (*snapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", b.path, err)
	}

	snap := newSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", b.path, err)
	}
	return snap, nil
}

// Save はスナップショット全体をJSONファイルに書き込む。
// 一時ファイルに書き込んだ後renameすることでアトミック性を保証する。
func (b *FileBackend) Save(snap *snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", b.path, err)
	}
	return nil
}

// compile-time interface check
var _ Backend = (*FileBackend)(nil)
