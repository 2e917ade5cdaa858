package imagestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/upc-lookup/internal/errors"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	return New(afero.NewMemMapFs(), "", nil)
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	require.NoError(t, s.Write("012993441012/012993441012_1.jpg", []byte("jpeg-bytes")))

	data, err := s.Read("012993441012/012993441012_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
	assert.True(t, s.Exists("012993441012/012993441012_1.jpg"))

	names, err := s.List("012993441012")
	require.NoError(t, err)
	assert.Equal(t, []string{"012993441012_1.jpg"}, names, "no temp files are left behind")
}

func TestWriteOverwrites(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	require.NoError(t, s.Write("u/a.png", []byte("first")))
	require.NoError(t, s.Write("u/a.png", []byte("second")))

	data, err := s.Read("u/a.png")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestExists(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	require.NoError(t, s.Write("u/full.jpg", []byte{1}))
	require.NoError(t, afero.WriteFile(s.Fs(), "u/empty.jpg", nil, 0o644))

	assert.False(t, s.Exists("u/empty.jpg"), "zero-size files do not count")
	assert.True(t, s.Exists("u/full.jpg"))
	assert.False(t, s.Exists("u/missing.jpg"))
	assert.False(t, s.Exists("u"), "directories do not count")
}

func TestInvalidPaths(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	for _, rel := range []string{"", ".", "..", "../etc/passwd", "/abs/file.jpg", "u/../../x"} {
		t.Run(rel, func(t *testing.T) {
			t.Parallel()
			err := s.Write(rel, []byte("x"))
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	_, err := s.Read("u/none.jpg")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, _, err = s.Open("u/none.jpg")
	assert.True(t, errors.IsNotFound(err))
}

func TestOpen(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	require.NoError(t, s.Write("u/best_u.jpg", []byte("best")))

	f, size, err := s.Open("u/best_u.jpg")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, int64(4), size)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "best", string(data))
}

func TestListAndPrune(t *testing.T) {
	t.Parallel()

	s := newMemStore(t)
	for _, name := range []string{"u_1.jpg", "u_2.png", "u_3.gif", "best_u.png"} {
		require.NoError(t, s.Write("u/"+name, []byte(name)))
	}

	names, err := s.List("u")
	require.NoError(t, err)
	assert.Equal(t, []string{"best_u.png", "u_1.jpg", "u_2.png", "u_3.gif"}, names)

	require.NoError(t, s.Prune("u", []string{"u_2.png", "best_u.png"}))
	names, err = s.List("u")
	require.NoError(t, err)
	assert.Equal(t, []string{"best_u.png", "u_2.png"}, names)

	empty, err := s.List("missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewOSConfinesToRoot(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "upc_images")
	s, err := NewOS(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Write("012993441012/best_012993441012.jpg", []byte("img")))

	want := filepath.Join(dir, "012993441012", "best_012993441012.jpg")
	assert.Equal(t, want, s.Path("012993441012/best_012993441012.jpg"))

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
}

func TestConcurrentWritesToSamePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewOS(dir, nil)
	require.NoError(t, err)

	const writers = 8
	payloads := make([]string, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		payloads[i] = fmt.Sprintf("image-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Write("012993441012/012993441012_1.jpg", []byte(payloads[i]))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}
	data, err := s.Read("012993441012/012993441012_1.jpg")
	require.NoError(t, err)
	assert.True(t, slices.Contains(payloads, string(data)), "file holds one complete write, got %q", data)

	entries, err := os.ReadDir(filepath.Join(dir, "012993441012"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
	assert.Equal(t, "012993441012_1.jpg", entries[0].Name())
}
