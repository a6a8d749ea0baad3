package service

import (
	"errors"

	"github.com/okian/loudsound/internal/adapters/mq/worker"
)

// Sentinel error kinds for this package.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrBackpressure   = errors.New("command queue full, retry later")
	ErrDuplicateEvent = errors.New("duplicate event id")
	ErrStopped        = worker.ErrStopped
)
