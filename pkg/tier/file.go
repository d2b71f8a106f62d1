package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const fileExt = ".json"

// FileConfig holds configuration for the durable file tier.
type FileConfig struct {
	// Dir is the directory holding one file per key.
	Dir string

	// Clock provides time operations for testing.
	// Default: SystemClock
	Clock Clock

	// Logger receives corrupt-entry and sweep reports.
	// Default: slog.Default()
	Logger *slog.Logger
}

// File stores every key in its own file under Dir.
//
// Each file holds a JSON envelope with the value and its expiry. All access
// to a key's file happens under an exclusive advisory lock on that file, so
// unrelated keys never contend. The lock is local to one filesystem: several
// nodes without a shared disk each keep their own state.
type File struct {
	dir    string
	clock  Clock
	logger *slog.Logger
}

// fileEnvelope is the on-disk layout of one entry.
type fileEnvelope struct {
	Data      []byte `json:"data"`
	ExpiresAt int64  `json:"expires_at"`
}

func (e fileEnvelope) expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.Unix() > e.ExpiresAt
}

// NewFile creates the tier, creating Dir if needed.
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Dir == "" {
		return nil, errors.New("tier: file dir is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("tier: create file dir: %w", err)
	}
	return &File{dir: cfg.Dir, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Kind returns KindFile.
func (f *File) Kind() Kind { return KindFile }

// Dir returns the directory backing the tier.
func (f *File) Dir() string { return f.dir }

// Get reads the entry for key. Expired or malformed entries are removed.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	file, err := f.openLocked(f.path(key), false)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.release(file)

	env, ok := f.read(file)
	if !ok {
		return nil, ErrNotFound
	}
	return env.Data, nil
}

// Set writes value for key.
func (f *File) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	file, err := f.openLocked(f.path(key), true)
	if err != nil {
		return err
	}
	defer f.release(file)

	return f.write(file, value, ttl)
}

// Delete removes the file for key.
func (f *File) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tier: delete %s: %w", key, err)
	}
	return nil
}

// Update runs fn while holding the key's file lock. The lock is released on
// every return path, including errors and panics in fn.
func (f *File) Update(_ context.Context, key string, fn UpdateFunc) error {
	file, err := f.openLocked(f.path(key), true)
	if err != nil {
		return err
	}
	defer f.release(file)

	var current []byte
	if env, ok := f.read(file); ok {
		current = env.Data
	}

	next, ttl, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return f.write(file, next, ttl)
}

// Sweep removes every expired or malformed entry in Dir.
func (f *File) Sweep(ctx context.Context) (int, error) {
	names, err := f.entryNames()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		path := filepath.Join(f.dir, name)
		file, err := f.openLocked(path, false)
		if err != nil {
			continue
		}
		if _, ok := f.read(file); !ok {
			if info, statErr := file.Stat(); statErr == nil && info.Size() == 0 {
				// Empty files are left by a writer that created the key and
				// failed before writing; they hold no state.
				_ = os.Remove(path)
			}
			removed++
		}
		f.release(file)
	}
	return removed, nil
}

// Stats counts entry files in Dir.
func (f *File) Stats(_ context.Context) (Stats, error) {
	names, err := f.entryNames()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Driver: KindFile, Entries: len(names)}, nil
}

// Close is a no-op; the tier holds no open files between calls.
func (f *File) Close() error { return nil }

func (f *File) path(key string) string {
	return filepath.Join(f.dir, fileName(key))
}

// fileName maps a key to a safe file name.
func fileName(key string) string {
	var b strings.Builder
	b.Grow(len(key) + len(fileExt))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString(fileExt)
	return b.String()
}

func (f *File) entryNames() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("tier: read file dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), fileExt) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// openLocked opens path and takes an exclusive lock on it. If the file was
// removed or replaced while waiting for the lock, it retries on the current file.
func (f *File) openLocked(path string, create bool) (*os.File, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	for {
		file, err := os.OpenFile(path, flags, 0o600) // #nosec G304 -- path is built from a sanitized key
		if err != nil {
			return nil, err
		}
		if err := lockFile(file); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("tier: lock %s: %w", filepath.Base(path), err)
		}

		held, heldErr := file.Stat()
		current, curErr := os.Stat(path)
		if heldErr == nil && curErr == nil && os.SameFile(held, current) {
			return file, nil
		}

		_ = unlockFile(file)
		_ = file.Close()
		if curErr != nil && !errors.Is(curErr, fs.ErrNotExist) {
			return nil, curErr
		}
		if curErr != nil && !create {
			return nil, curErr
		}
	}
}

func (f *File) release(file *os.File) {
	_ = unlockFile(file)
	_ = file.Close()
}

// read decodes the envelope from a locked file. Expired or malformed
// entries are unlinked while the lock is still held.
func (f *File) read(file *os.File) (fileEnvelope, bool) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fileEnvelope{}, false
	}
	raw, err := io.ReadAll(file)
	if err != nil || len(raw) == 0 {
		return fileEnvelope{}, false
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		f.logger.Warn("removing corrupt state entry",
			slog.String("file", filepath.Base(file.Name())),
			slog.Any("error", err))
		_ = os.Remove(file.Name())
		return fileEnvelope{}, false
	}
	if env.expired(f.clock.Now()) {
		_ = os.Remove(file.Name())
		return fileEnvelope{}, false
	}
	return env, true
}

func (f *File) write(file *os.File, value []byte, ttl time.Duration) error {
	env := fileEnvelope{Data: value}
	if ttl > 0 {
		env.ExpiresAt = f.clock.Now().Add(ttl).Unix()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("tier: encode entry: %w", err)
	}
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("tier: truncate entry: %w", err)
	}
	if _, err := file.WriteAt(raw, 0); err != nil {
		return fmt.Errorf("tier: write entry: %w", err)
	}
	return nil
}
