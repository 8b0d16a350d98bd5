package diskmanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
)

func newTestDiskManager(t *testing.T) (*DiskManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	dm, err := NewDiskManager(path, DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return dm, path
}

func TestDiskManagerReadWriteRoundTrip(t *testing.T) {
	dm, _ := newTestDiskManager(t)

	pageID, err := dm.AllocatePage()
	require.NoError(t, err)

	data := make([]byte, DefaultPageSize)
	copy(data, []byte("hello graveldb"))
	require.NoError(t, dm.WritePage(pageID, data))

	got := make([]byte, DefaultPageSize)
	require.NoError(t, dm.ReadPage(pageID, got))
	require.Equal(t, data, got)
}

func TestDiskManagerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	dm, err := NewDiskManager(path, DefaultPageSize, zap.NewNop())
	require.NoError(t, err)

	pageID, err := dm.AllocatePage()
	require.NoError(t, err)
	data := make([]byte, DefaultPageSize)
	copy(data, []byte("durable"))
	require.NoError(t, dm.WritePage(pageID, data))
	require.NoError(t, dm.Close())

	dm2, err := NewDiskManager(path, DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	defer dm2.Close()

	got := make([]byte, DefaultPageSize)
	require.NoError(t, dm2.ReadPage(pageID, got))
	require.Equal(t, data, got)
}

func TestDiskManagerRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	dm, err := NewDiskManager(path, DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xde, 0xad, 0xbe, 0xef}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = NewDiskManager(path, DefaultPageSize, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDiskManagerRejectsPageSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismatch.db")
	dm, err := NewDiskManager(path, DefaultPageSize, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	_, err = NewDiskManager(path, 8192, zap.NewNop())
	require.ErrorIs(t, err, ErrPageSizeMismatch)
}

func TestDiskManagerAllocateReusesDeallocated(t *testing.T) {
	dm, _ := newTestDiskManager(t)

	p1, err := dm.AllocatePage()
	require.NoError(t, err)
	p2, err := dm.AllocatePage()
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)

	junk := make([]byte, DefaultPageSize)
	for i := range junk {
		junk[i] = 0xff
	}
	require.NoError(t, dm.WritePage(p1, junk))
	require.NoError(t, dm.DeallocatePage(p1))

	p3, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, p1, p3)

	// a reused page must come back zeroed, not with its old bytes
	got := make([]byte, DefaultPageSize)
	require.NoError(t, dm.ReadPage(p3, got))
	require.Equal(t, make([]byte, DefaultPageSize), got)
}

func TestDiskManagerReadUnallocatedPage(t *testing.T) {
	dm, _ := newTestDiskManager(t)

	got := make([]byte, DefaultPageSize)
	err := dm.ReadPage(pagemanager.PageID(999), got)
	require.ErrorIs(t, err, ErrPageNotFound)
}

func TestDiskManagerShortBufferRejected(t *testing.T) {
	dm, _ := newTestDiskManager(t)

	pageID, err := dm.AllocatePage()
	require.NoError(t, err)

	short := make([]byte, 16)
	require.Error(t, dm.ReadPage(pageID, short))
	require.Error(t, dm.WritePage(pageID, short))
}
