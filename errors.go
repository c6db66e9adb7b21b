package structdb

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWatcherLimit is returned when the watcher id space is exhausted.
	// Existing watchers keep working.
	ErrWatcherLimit = errors.New("structdb: maximum number of watchers reached")

	// ErrNotDefined is returned for operations on a table that was never
	// registered with Define.
	ErrNotDefined = errors.New("structdb: table not defined")

	ErrTxClosed = errors.New("structdb: transaction closed")
)

// InitError is returned when the storage backend cannot be created or opened.
type InitError struct {
	Path string
	Err  error
}

func (e *InitError) Unwrap() error {
	return e.Err
}

func (e *InitError) Error() string {
	return fmt.Sprintf("structdb: cannot open %s: %v", e.Path, e.Err)
}

type TableError struct {
	Table string
	Index string
	Key   []byte
	Msg   string
	Err   error
}

func tableErrf(table, index string, key []byte, err error, format string, args ...any) error {
	if key != nil {
		key = bytes.Clone(key)
	}
	return &TableError{table, index, key, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// PanicError is returned by DB.Update and DB.View when the callback panics.
type PanicError struct {
	Reason any
	Stack  string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.Reason, p.Stack)
}
