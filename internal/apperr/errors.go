// Package apperr defines the error taxonomy shared by every sync component.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	ErrParse              = errors.New("parse error")
	ErrIntegrity          = errors.New("integrity violation")
	ErrContentConversion  = errors.New("content conversion failed")
	ErrExternalStore      = errors.New("external store error")
	ErrOrphanConfirmation = errors.New("orphan deletion requires confirmation")
	ErrProfileMismatch    = errors.New("profile mismatch")
	ErrLocked             = errors.New("collection is locked by another run")
	ErrUnsupported        = errors.New("unsupported operation")
	ErrNotInitialized     = errors.New("collection not initialized")
	ErrInvalidNote        = errors.New("invalid note")
	ErrInvalidDeckName    = errors.New("invalid deck name")
	ErrStoreUnreachable   = errors.New("external store unreachable")
	ErrNoteTypeMismatch   = errors.New("note type mismatch")
)

// ParseError reports malformed deck file text.
type ParseError struct {
	Path string
	Line int // 1-based, 0 when unknown
	Msg  string
}

func (e *ParseError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Msg)
	}
	return e.Msg
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// Duplicate is one identity claimed by more than one place.
type Duplicate struct {
	Kind  string // "note" or "deck"
	ID    int64
	Paths []string
}

// IntegrityError lists every duplicated identity found in a collection.
type IntegrityError struct {
	Duplicates []Duplicate
}

func (e *IntegrityError) Error() string {
	parts := make([]string, 0, len(e.Duplicates))
	for _, d := range e.Duplicates {
		parts = append(parts, fmt.Sprintf("%s_id %d in %s", d.Kind, d.ID, strings.Join(d.Paths, ", ")))
	}
	sort.Strings(parts)
	return "duplicate identities: " + strings.Join(parts, "; ")
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// ContentConversionError reports a construct one side cannot represent.
type ContentConversionError struct {
	Construct string
	Field     string
	Path      string
	NoteID    int64
}

func (e *ContentConversionError) Error() string {
	var b strings.Builder
	b.WriteString("cannot convert ")
	b.WriteString(e.Construct)
	if e.Field != "" {
		fmt.Fprintf(&b, " in field %q", e.Field)
	}
	if e.NoteID != 0 {
		fmt.Fprintf(&b, " of note %d", e.NoteID)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	return b.String()
}

func (e *ContentConversionError) Unwrap() error {
	return ErrContentConversion
}

// ExternalStoreError wraps a failed adapter call.
type ExternalStoreError struct {
	Op  string
	ID  int64
	Err error
}

func (e *ExternalStoreError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("store %s %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the store sentinel and the underlying cause.
func (e *ExternalStoreError) Unwrap() []error {
	return []error{ErrExternalStore, e.Err}
}

// OrphanConfirmationRequired lists items that would be deleted without a
// remaining reference on either side.
type OrphanConfirmationRequired struct {
	Kind  string
	Items []string
}

func (e *OrphanConfirmationRequired) Error() string {
	return fmt.Sprintf("%d %s need confirmation before deletion: %s",
		len(e.Items), e.Kind, strings.Join(e.Items, ", "))
}

func (e *OrphanConfirmationRequired) Unwrap() error {
	return ErrOrphanConfirmation
}

// ProfileMismatchError is returned when the store's active profile is not the
// one the collection was initialised with.
type ProfileMismatchError struct {
	Want string
	Got  string
}

func (e *ProfileMismatchError) Error() string {
	return fmt.Sprintf("active profile %q does not match collection profile %q", e.Got, e.Want)
}

func (e *ProfileMismatchError) Unwrap() []error {
	return []error{ErrProfileMismatch, ErrExternalStore}
}

// StoreError wraps err as an ExternalStoreError unless it already is one.
func StoreError(op string, id int64, err error) error {
	if err == nil {
		return nil
	}
	var se *ExternalStoreError
	if errors.As(err, &se) {
		return err
	}
	return &ExternalStoreError{Op: op, ID: id, Err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

func IsExternalStore(err error) bool {
	return errors.Is(err, ErrExternalStore)
}

func IsOrphanConfirmation(err error) bool {
	return errors.Is(err, ErrOrphanConfirmation)
}
