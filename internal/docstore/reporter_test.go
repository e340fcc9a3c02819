package docstore

import (
	"errors"
	"testing"
)

func TestRecorder_KeepsMostRecent(t *testing.T) {
	rec := NewRecorder(2)
	for _, id := range []string{"a", "b", "c"} {
		rec.Report(&WriteError{Op: "set", Collection: "notes", ID: id, Err: errors.New("boom")})
	}

	recent := rec.Recent()
	if len(recent) != 2 {
		t.Fatalf("len(Recent()) = %d, want 2", len(recent))
	}
	if recent[0].ID != "b" || recent[1].ID != "c" {
		t.Errorf("Recent() ids = %s,%s, want b,c", recent[0].ID, recent[1].ID)
	}
}

func TestRecorder_Subscribe(t *testing.T) {
	rec := NewRecorder(0)

	var got []string
	unsubscribe := rec.Subscribe(func(err *WriteError) {
		got = append(got, err.ID)
	})

	rec.Report(&WriteError{ID: "first", Err: ErrPermissionDenied})
	unsubscribe()
	rec.Report(&WriteError{ID: "second", Err: ErrPermissionDenied})

	if len(got) != 1 || got[0] != "first" {
		t.Errorf("subscriber saw %v, want [first]", got)
	}
}

func TestRecorder_IgnoresNil(t *testing.T) {
	rec := NewRecorder(0)
	rec.Report(nil)
	if len(rec.Recent()) != 0 {
		t.Error("nil report should be ignored")
	}
}

func TestWriteError_Unwrap(t *testing.T) {
	err := error(&WriteError{Op: "update", Collection: "users", ID: "u1", Err: ErrPermissionDenied})
	if !IsPermissionDenied(err) {
		t.Error("IsPermissionDenied() should see through WriteError")
	}
	if err.Error() != "update users/u1: permission denied" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestOpKind_String(t *testing.T) {
	tests := []struct {
		kind OpKind
		want string
	}{
		{OpSet, "set"},
		{OpUpdate, "update"},
		{OpDelete, "delete"},
		{OpKind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("OpKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
