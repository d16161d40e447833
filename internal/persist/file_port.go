package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FilePort keeps each key in its own JSON file under a directory, so the
// cache outlives the process. A positive quota caps the total size of all
// stored values.
type FilePort struct {
	mu    sync.Mutex
	dir   string
	quota int
}

func NewFilePort(dir string, quota int) *FilePort {
	return &FilePort{dir: dir, quota: quota}
}

func (p *FilePort) Dir() string {
	return p.dir
}

func (p *FilePort) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("persist: invalid key %q", key)
	}
	return filepath.Join(p.dir, key+".json"), nil
}

func (p *FilePort) Read(_ context.Context, key string) ([]byte, error) {
	path, err := p.path(key)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", key, err)
	}
	return raw, nil
}

func (p *FilePort) Write(_ context.Context, key string, value []byte) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quota > 0 {
		used, err := p.usedExcept(path)
		if err != nil {
			return err
		}
		if used+len(value) > p.quota {
			return ErrQuotaExceeded
		}
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(p.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache %s: %w", key, err)
	}
	return nil
}

func (p *FilePort) Clear(_ context.Context, key string) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear cache %s: %w", key, err)
	}
	return nil
}

// usedExcept sums the stored values other than the one at skip.
func (p *FilePort) usedExcept(skip string) (int, error) {
	entries, err := os.ReadDir(p.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list cache dir: %w", err)
	}
	total := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if filepath.Join(p.dir, name) == skip {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += int(info.Size())
	}
	return total, nil
}
