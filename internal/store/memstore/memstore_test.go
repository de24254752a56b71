package memstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/wilologistics/keeper/internal/store"
)

func TestStore_PutOpenListDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, "b.zip", strings.NewReader("bee")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "a.zip", strings.NewReader("ay")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rc, err := s.Open(ctx, "b.zip")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "bee" {
		t.Errorf("Open() content = %q, want bee", data)
	}

	objs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objs) != 2 || objs[0].Name != "a.zip" || objs[1].Size != 3 {
		t.Errorf("List() = %+v", objs)
	}

	if err := s.Delete(ctx, "a.zip"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "a.zip"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Open(ctx, "a.zip"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Open() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_FailPuts(t *testing.T) {
	s := New()
	errDown := errors.New("down")
	s.FailPuts(errDown)

	if err := s.Put(context.Background(), "x.zip", strings.NewReader("x")); !errors.Is(err, errDown) {
		t.Errorf("Put() error = %v, want errDown", err)
	}
	if _, ok := s.Bytes("x.zip"); ok {
		t.Error("failed Put() stored the object")
	}
}
