package bundle

import "errors"

var (
	ErrDownload = errors.New("bundle download failed")
	ErrExtract  = errors.New("bundle extract failed")
)
