package structure

import (
	"fmt"
	"strconv"
)

// ErrFileAccess matches any *FileAccessError via errors.Is
var ErrFileAccess = &FileAccessError{}

// ErrFormat matches any *FormatError via errors.Is
var ErrFormat = &FormatError{}

// FileAccessError is returned when an input file cannot be opened or read.
type FileAccessError struct {
	File string
	Err  error
}

func (e *FileAccessError) Error() string {
	if e.Err == nil {
		return "cannot access file " + e.File
	}
	return fmt.Sprintf("cannot access file %s: %v", e.File, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

func (e *FileAccessError) Is(target error) bool {
	_, ok := target.(*FileAccessError)
	return ok
}

// FormatError reports a malformed line in an input file. Line is 1-based;
// zero means the error is not tied to a single line.
type FormatError struct {
	File   string
	Line   int
	Text   string
	Reason string
}

func (e *FormatError) Error() string {
	msg := "format error"
	if e.File != "" {
		msg += " in " + e.File
	}
	if e.Line > 0 {
		msg += " line " + strconv.Itoa(e.Line)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Text != "" {
		msg += " (" + strconv.Quote(e.Text) + ")"
	}
	return msg
}

func (e *FormatError) Is(target error) bool {
	_, ok := target.(*FormatError)
	return ok
}
