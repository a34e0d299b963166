package kvstore

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
)

func TestLevelDB(t *testing.T) {
	s := NewMemory(ulogger.TestLogger{}, "test")
	defer s.Close()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get([]byte("nope"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		ok, err := s.Has([]byte("nope"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("batch and prefix iteration", func(t *testing.T) {
		batch := NewBatch()
		batch.Put(Key(PrefixMint, []byte{2}), []byte("b"))
		batch.Put(Key(PrefixMint, []byte{1}), []byte("a"))
		batch.Put(Key(PrefixSpend, []byte{1}), []byte("s"))
		require.NoError(t, s.Write(batch, true))

		iter := s.NewIterator([]byte{PrefixMint})
		defer iter.Release()

		var values []string
		for iter.Next() {
			values = append(values, string(iter.Value()))
		}

		require.NoError(t, iter.Error())
		assert.Equal(t, []string{"a", "b"}, values)
	})

	t.Run("delete", func(t *testing.T) {
		key := Key(PrefixSpend, []byte{1})
		require.NoError(t, s.Delete(key, false))

		ok, err := s.Has(key)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLevelDBReopenAndWipe(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")

	s, err := New(ulogger.TestLogger{}, "index", dir, Options{CacheBytes: 8 << 20})
	require.NoError(t, err)
	require.NoError(t, s.Put(FlagKey("txindex"), []byte{1}, true))
	require.NoError(t, s.Close())

	s, err = New(ulogger.TestLogger{}, "index", dir, Options{})
	require.NoError(t, err)

	v, err := s.Get(FlagKey("txindex"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, v)
	require.NoError(t, s.Close())

	s, err = New(ulogger.TestLogger{}, "index", dir, Options{Wipe: true})
	require.NoError(t, err)

	defer s.Close()

	ok, err := s.Has(FlagKey("txindex"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []byte{'f', 1, 0, 0, 0}, Uint32Key(PrefixFileInfo, 1))
	assert.Equal(t, []byte("Ftxindex"), FlagKey("txindex"))
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(ulogger.TestLogger{}, "mem", &url.URL{Scheme: "memory"}, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(ulogger.TestLogger{}, "disk", PathURL(filepath.Join(t.TempDir(), "db")), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewStore(ulogger.TestLogger{}, "bad", &url.URL{Scheme: "postgres"}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}
