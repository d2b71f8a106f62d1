package tier

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) (*File, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	f, err := NewFile(FileConfig{Dir: filepath.Join(t.TempDir(), "state"), Clock: clock})
	require.NoError(t, err)
	return f, clock
}

func TestNewFile_CreatesDirIdempotently(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	_, err := NewFile(FileConfig{Dir: dir})
	require.NoError(t, err)
	_, err = NewFile(FileConfig{Dir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewFile_RequiresDir(t *testing.T) {
	_, err := NewFile(FileConfig{})
	assert.Error(t, err)
}

func TestFile_OneFilePerKey(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFile(t)

	require.NoError(t, f.Set(ctx, "ratelimit:abc123", []byte("1"), time.Minute))
	require.NoError(t, f.Set(ctx, "token:def456", []byte("2"), time.Minute))

	_, err := os.Stat(filepath.Join(f.Dir(), "ratelimit_abc123.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.Dir(), "token_def456.json"))
	assert.NoError(t, err)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
}

func TestFile_CorruptEntryIsRemoved(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFile(t)

	path := filepath.Join(f.Dir(), fileName("broken"))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := f.Get(ctx, "broken")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupt file should be deleted on read")
}

func TestFile_ExpiredEntryIsRemovedOnRead(t *testing.T) {
	ctx := context.Background()
	f, clock := newTestFile(t)

	require.NoError(t, f.Set(ctx, "k", []byte("v"), time.Second))
	clock.Advance(5 * time.Second)

	_, err := f.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = os.Stat(filepath.Join(f.Dir(), fileName("k")))
	assert.True(t, os.IsNotExist(err))
}

func TestFile_UpdateSerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFile(t)

	const goroutines = 40
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.Update(ctx, "counter", func(cur []byte) ([]byte, time.Duration, error) {
				n, _ := strconv.Atoi(string(cur))
				return []byte(strconv.Itoa(n + 1)), time.Hour, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(goroutines), string(got))
}

func TestFile_UpdateReleasesLockOnError(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFile(t)

	boom := assert.AnError
	err := f.Update(ctx, "k", func([]byte) ([]byte, time.Duration, error) {
		return nil, 0, boom
	})
	assert.ErrorIs(t, err, boom)

	done := make(chan error, 1)
	go func() {
		done <- f.Set(ctx, "k", []byte("v"), time.Minute)
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lock was not released after failed update")
	}
}

func TestFile_UpdateSurvivesConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFile(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.Update(ctx, "k", func(cur []byte) ([]byte, time.Duration, error) {
				return []byte("v"), time.Minute, nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = f.Delete(ctx, "k")
		}()
	}
	wg.Wait()

	require.NoError(t, f.Set(ctx, "k", []byte("final"), time.Minute))
	got, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "final", string(got))
}

func TestFile_Sweep(t *testing.T) {
	ctx := context.Background()
	f, clock := newTestFile(t)

	require.NoError(t, f.Set(ctx, "old", []byte("v"), time.Second))
	require.NoError(t, f.Set(ctx, "fresh", []byte("v"), time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(f.Dir(), "junk.json"), []byte("???"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(f.Dir(), "notes.txt"), []byte("ignored"), 0o600))
	clock.Advance(time.Minute)

	removed, err := f.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Driver: KindFile, Entries: 1}, stats)

	_, err = os.Stat(filepath.Join(f.Dir(), "notes.txt"))
	assert.NoError(t, err, "non-entry files are left alone")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "ratelimit_0a1b.json", fileName("ratelimit:0a1b"))
	assert.Equal(t, "___etc_passwd.json", fileName("../etc/passwd"))
}
