package core

import (
	"errors"
	"fmt"
	"slices"
)

// ModuleID identifies a module. Bot modules use their short name (e.g. "echo").
type ModuleID string

// ChatType is the kind of chat a module can serve.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// DefaultChatTypes is used when a module does not declare any.
var DefaultChatTypes = []ChatType{ChatPrivate, ChatGroup}

// ErrInvalidModuleInfo is returned by ModuleInfo.Validate.
var ErrInvalidModuleInfo = errors.New("invalid module info")

// Module is implemented by every compiled-in module.
type Module interface {
	ModuleInfo() ModuleInfo
}

// ModuleInfo describes a module and how to instantiate it.
type ModuleInfo struct {
	ID          ModuleID
	Version     string
	Description string
	Author      string

	// Commands lists the commands the module declares, without the slash.
	Commands []string

	// ChatTypes lists where the module is usable. Empty means DefaultChatTypes.
	ChatTypes []ChatType

	// Dependencies are loaded before this module and block its unload
	// while they are in use.
	Dependencies []ModuleID

	New func() Module
}

// Validate checks that the metadata required to load a bot module is present.
func (i ModuleInfo) Validate() error {
	var errs []error
	if i.ID == "" {
		errs = append(errs, errors.New("missing ID"))
	}
	if i.Version == "" {
		errs = append(errs, errors.New("missing version"))
	}
	if i.Description == "" {
		errs = append(errs, errors.New("missing description"))
	}
	if i.New == nil {
		errs = append(errs, errors.New("missing New function"))
	}
	for _, ct := range i.ChatTypes {
		if ct != ChatPrivate && ct != ChatGroup {
			errs = append(errs, fmt.Errorf("unknown chat type %q", ct))
		}
	}
	for _, dep := range i.Dependencies {
		if dep == i.ID {
			errs = append(errs, errors.New("module depends on itself"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidModuleInfo, i.ID, err)
	}
	return nil
}

// SupportedChatTypes returns the declared chat types or the defaults.
func (i ModuleInfo) SupportedChatTypes() []ChatType {
	if len(i.ChatTypes) == 0 {
		return DefaultChatTypes
	}
	return i.ChatTypes
}

// Supports reports whether the module can be used in chats of type t.
func (i ModuleInfo) Supports(t ChatType) bool {
	return slices.Contains(i.SupportedChatTypes(), t)
}
