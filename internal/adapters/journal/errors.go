package journal

import "errors"

var (
	ErrInvalidRecord = errors.New("invalid journal record")
	ErrCorruptRecord = errors.New("corrupt journal record")
	ErrSchemaVersion = errors.New("unsupported journal schema")
	ErrReplay        = errors.New("journal replay failed")
)
