package structdb

import (
	"errors"
	"strings"
	"testing"
)

func TestTableError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := tableErrf("users", "users_by_email", []byte("k"), inner, "oops %d", 1)
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, wanted true")
	}
	s := err.Error()
	if s != "users.users_by_email/6b: oops 1: inner" {
		t.Fatalf("err.Error() = %q, wanted table/index/key/msg/inner", s)
	}

	s = (&TableError{Table: "T", Err: inner}).Error()
	if s != "T: inner" {
		t.Fatalf("TableError.Error() = %q, wanted %q", s, "T: inner")
	}

	s = tableErrf("T", "", nil, nil, "bad").Error()
	if s != "T: bad" {
		t.Fatalf("TableError.Error() = %q, wanted %q", s, "T: bad")
	}
}

func TestInitError(t *testing.T) {
	inner := errors.New("inner")
	err := error(&InitError{Path: "/x.db", Err: inner})
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, wanted true")
	}
	if !strings.Contains(err.Error(), "/x.db") {
		t.Fatalf("err.Error() = %q, wanted path", err.Error())
	}
}

func TestSafelyCall(t *testing.T) {
	err := safelyCall(func(int) error { panic("boom") }, 1)
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T, wanted *PanicError", err)
	}
	if pe.Reason != "boom" || !strings.Contains(pe.Error(), "panic: boom") {
		t.Fatalf("PanicError = %v, wanted reason boom", pe)
	}

	if err := safelyCall(func(int) error { return nil }, 1); err != nil {
		t.Fatalf("safelyCall = %v, wanted nil", err)
	}
}
