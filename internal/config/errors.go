package config

import "errors"

// ErrConfig marks a missing or invalid configuration. It is fatal at startup
// and rejected (old config kept) on reload.
var ErrConfig = errors.New("config error")

// ErrGroupNotFound is returned when removing a group that is not allowed.
var ErrGroupNotFound = errors.New("group not in allow list")
