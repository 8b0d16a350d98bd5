package diskmanager

import "errors"

// --- Error Definitions ---
//
// Shared sentinel errors for the storage core. Callers classify outcomes
// with errors.Is; expected negatives (key not found, duplicate key) are
// ordinary results, while invalid-frame and out-of-range errors indicate
// a bug in the calling code.

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrPageNotFound     = errors.New("page not found in buffer pool")
	ErrBufferPoolFull   = errors.New("buffer pool is full and no frames can be evicted")
	ErrPagePinned       = errors.New("page is pinned and cannot be evicted")
	ErrInvalidFrame     = errors.New("frame id is outside the replacer's pool size")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrIO               = errors.New("i/o error")
	ErrInvalidPageData  = errors.New("invalid page data")
	ErrDBFileNotFound   = errors.New("database file not found")
	ErrInvalidMagic     = errors.New("invalid database file magic number")
	ErrPageSizeMismatch = errors.New("database file page size does not match configured page size")
)
