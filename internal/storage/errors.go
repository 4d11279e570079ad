package storage

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindUnknownStore ErrorKind = "unknown_store"
	KindDuplicate    ErrorKind = "duplicate"
	KindNotFound     ErrorKind = "not_found"
	KindInvalid      ErrorKind = "invalid"
)

// ConfigError is returned by management operations. No state is changed when
// one is returned.
type ConfigError struct {
	Op     string
	Kind   ErrorKind
	Name   string
	Detail string
}

func (e *ConfigError) Error() string {
	switch e.Kind {
	case KindUnknownStore:
		return fmt.Sprintf("%s: store %q does not exist", e.Op, e.Name)
	case KindDuplicate:
		return fmt.Sprintf("%s: %q already exists", e.Op, e.Name)
	case KindNotFound:
		return fmt.Sprintf("%s: %q not found", e.Op, e.Name)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
}

func invalid(op, name, detail string) error {
	return &ConfigError{Op: op, Kind: KindInvalid, Name: name, Detail: detail}
}

func kindOf(err error) ErrorKind {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

func IsConflict(err error) bool { return kindOf(err) == KindDuplicate }

// IsInvalid reports input errors, including references to unknown stores.
func IsInvalid(err error) bool {
	k := kindOf(err)
	return k == KindInvalid || k == KindUnknownStore
}
