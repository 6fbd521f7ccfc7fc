package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both implementations must behave the same; Dir is the production default
// and Memory backs the tests of the other packages.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(),
		"dir":    dir,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			exists, err := s.Exists(ctx, "100.session")
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = s.Read(ctx, "100.session")
			assert.ErrorIs(t, err, ErrNotExist)

			require.NoError(t, s.Write(ctx, "100.session", []byte("payload")))
			exists, err = s.Exists(ctx, "100.session")
			require.NoError(t, err)
			assert.True(t, exists)

			data, err := s.Read(ctx, "100.session")
			require.NoError(t, err)
			assert.Equal(t, "payload", string(data))

			require.NoError(t, s.Write(ctx, "100.session", []byte("overwritten")))
			data, err = s.Read(ctx, "100.session")
			require.NoError(t, err)
			assert.Equal(t, "overwritten", string(data))

			require.NoError(t, s.Remove(ctx, "100.session"))
			exists, err = s.Exists(ctx, "100.session")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestStoreTouch(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Touch(ctx, ".session_lock"))
			exists, err := s.Exists(ctx, ".session_lock")
			require.NoError(t, err)
			assert.True(t, exists)

			// Touch overwrites any previous value with an empty one.
			require.NoError(t, s.Write(ctx, "k", []byte("v")))
			require.NoError(t, s.Touch(ctx, "k"))
			data, err := s.Read(ctx, "k")
			require.NoError(t, err)
			assert.Empty(t, data)
		})
	}
}

func TestStoreGlob(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "100.session", nil))
			require.NoError(t, s.Write(ctx, "200.session", nil))
			require.NoError(t, s.Write(ctx, ".chat_cache", []byte("{}")))

			keys, err := s.Glob(ctx, "*.session")
			require.NoError(t, err)
			assert.Equal(t, []string{"100.session", "200.session"}, keys)
		})
	}
}
