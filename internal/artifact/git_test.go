package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestKeyFlattensSeparators(t *testing.T) {
	cases := map[[2]string]string{
		{"form_v1", "form_v1_1"}:  "form_v1/form_v1_1.json",
		{"a/b", "c\\d"}:           "a_b/c_d.json",
		{"..", "x"}:               "_../x.json",
		{"", "x"}:                 "_/x.json",
	}
	for input, want := range cases {
		if got := Key(input[0], input[1]); got != want {
			t.Fatalf("Key(%q, %q) = %q, want %q", input[0], input[1], got, want)
		}
	}
}

func TestGitStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewGitStore(dir)

	payload, err := Encode(map[string]any{"submission_name": "form_v1_1", "data": map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := s.Put(ctx, "form_v1", "form_v1_1", payload); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "form_v1", "form_v1_1", payload); err != nil {
		t.Fatalf("Put() of identical content error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Fatalf("repo not initialised: %v", err)
	}

	got, err := s.Read(ctx, "form_v1", "form_v1_1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !strings.Contains(string(got), `"submission_name": "form_v1_1"`) {
		t.Fatalf("unexpected artifact %s", got)
	}

	history, err := s.History(ctx, "form_v1", "form_v1_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Message != "Store form_v1_1" || history[0].Author != commitAuthor {
		t.Fatalf("expected a single store commit, got %+v", history)
	}

	if err := s.Delete(ctx, "form_v1", "form_v1_1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Read(ctx, "form_v1", "form_v1_1"); !errors.Is(err, ErrNotStored) {
		t.Fatalf("expected artifact removed, got %v", err)
	}
	if err := s.Delete(ctx, "form_v1", "form_v1_1"); err != nil {
		t.Fatalf("Delete() of missing artifact error = %v", err)
	}
}

func TestGitStoreDeleteTemplate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewGitStore(dir)

	for _, name := range []string{"a_v1_1", "a_v1_2"} {
		if err := s.Put(ctx, "a_v1", name, []byte("{}\n")); err != nil {
			t.Fatalf("Put(%s) error = %v", name, err)
		}
	}
	if err := s.Put(ctx, "b_v1", "b_v1_1", []byte("{}\n")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := s.DeleteTemplate(ctx, "a_v1"); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a_v1")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected template folder removed, got %v", err)
	}
	if _, err := s.Read(ctx, "b_v1", "b_v1_1"); err != nil {
		t.Fatalf("other template artifact should survive: %v", err)
	}
	if err := s.DeleteTemplate(ctx, "never"); err != nil {
		t.Fatalf("DeleteTemplate() of unknown template error = %v", err)
	}
}

func TestGitStoreConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	s := NewGitStore(t.TempDir())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Put(ctx, "c_v1", "c_v1_"+string(rune('a'+i)), []byte("{}\n"))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Put() error = %v", err)
		}
	}
}

func TestNopStore(t *testing.T) {
	var s Store = Nop{}
	ctx := context.Background()
	if err := s.Put(ctx, "t", "s", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "t", "s"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTemplate(ctx, "t"); err != nil {
		t.Fatal(err)
	}
}
