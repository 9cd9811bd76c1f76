package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pvfs/internal/common"
)

// setupStore opens backend over a fresh directory and returns a target file
// inside it.
func setupStore(t *testing.T, backend string) (XattrStore, Target) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	var dbPath string
	switch backend {
	case BackendSQLite:
		dbPath = filepath.Join(dir, "state", "eadb.sqlite")
	case BackendBadger:
		dbPath = filepath.Join(dir, "badger")
	}
	s, err := Open(backend, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	target := PathTarget(path, 1, 42)
	if backend == BackendNative {
		if err := s.Set(target, "user.probe", []byte("x")); err != nil {
			t.Skipf("user xattrs unavailable in %s: %v", dir, err)
		}
		require.NoError(t, s.Remove(target, "user.probe"))
	}
	return s, target
}

// userNames drops system namespaces a native filesystem may add on its own.
func userNames(names []string) []string {
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, "user.") {
			out = append(out, n)
		}
	}
	return out
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, backend := range []string{BackendNative, BackendSQLite, BackendBadger} {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			s, target := setupStore(t, backend)

			_, err := s.Get(target, "user.DosAttrib")
			assert.ErrorIs(t, err, ErrNoAttr)

			require.NoError(t, s.Set(target, "user.DosAttrib", []byte{1, 2, 3}))
			require.NoError(t, s.Set(target, "user.DosEAs", []byte("ea")))
			require.NoError(t, s.Set(target, "user.DosAttrib", []byte{4, 5}))

			got, err := s.Get(target, "user.DosAttrib")
			require.NoError(t, err)
			assert.Equal(t, []byte{4, 5}, got)

			names, err := s.List(target)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"user.DosAttrib", "user.DosEAs"}, userNames(names))

			require.NoError(t, s.Remove(target, "user.DosEAs"))
			assert.ErrorIs(t, s.Remove(target, "user.DosEAs"), ErrNoAttr)

			require.NoError(t, s.Set(target, "user.empty", nil))
			got, err = s.Get(target, "user.empty")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSideDatabaseDeleteAll(t *testing.T) {
	t.Parallel()
	for _, backend := range []string{BackendSQLite, BackendBadger} {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			s, target := setupStore(t, backend)
			other := PathTarget(target.Path, 1, 43)

			require.NoError(t, s.Set(target, "a", []byte("1")))
			require.NoError(t, s.Set(target, "b", []byte("2")))
			require.NoError(t, s.Set(other, "a", []byte("3")))

			require.NoError(t, s.DeleteAll(target))
			names, err := s.List(target)
			require.NoError(t, err)
			assert.Empty(t, names)

			got, err := s.Get(other, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("3"), got)
		})
	}
}

func TestNativeMissingAttrStatus(t *testing.T) {
	t.Parallel()
	s, target := setupStore(t, BackendNative)
	_, err := s.Get(target, "user.nothing")
	assert.ErrorIs(t, err, ErrNoAttr)
	assert.Equal(t, common.StatusNonexistentEAEntry, common.StatusOf(err))
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()
	stmts := splitStatements(sideDBSchema)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS eas")
}

func TestUnknownBackend(t *testing.T) {
	t.Parallel()
	_, err := Open("tape", "")
	assert.Error(t, err)
}
