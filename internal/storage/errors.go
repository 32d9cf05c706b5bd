package storage

import "errors"

var (
	ErrStoreUnavailable  = errors.New("object store unavailable")
	ErrPutFailed         = errors.New("put failed")
	ErrDeleteFailed      = errors.New("delete failed")
	ErrPresignFailed     = errors.New("presign failed")
	ErrListingPageFailed = errors.New("listing page failed")
	ErrInvalidKey        = errors.New("invalid object key")
)
