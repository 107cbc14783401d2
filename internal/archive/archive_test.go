package archive

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func TestFSEntries(t *testing.T) {
	a := New("mem", fstest.MapFS{
		"module.yaml":                 {Data: []byte("module: {}")},
		"com/acme/api/Service.class":  {Data: []byte("svc")},
		"com/acme/api/Client.class":   {Data: []byte("cli")},
		"com/acme/api/readme.txt":     {Data: []byte("doc")},
		"com/acme/api/impl/Foo.class": {Data: []byte("foo")},
	})

	got := a.Entries("com/acme/api", "*.class", false)
	want := []string{"com/acme/api/Client.class", "com/acme/api/Service.class"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("non-recursive entries mismatch (-want +got):\n%s", diff)
	}

	got = a.Entries("/com/acme", "*.class", true)
	want = []string{"com/acme/api/Client.class", "com/acme/api/Service.class", "com/acme/api/impl/Foo.class"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recursive entries mismatch (-want +got):\n%s", diff)
	}
}

func TestFSReadFile(t *testing.T) {
	a := New("mem", fstest.MapFS{"a/b.txt": {Data: []byte("hello")}})

	data, err := a.ReadFile("/a/b.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}
	if !a.Exists("a/b.txt") || a.Exists("a") {
		t.Fatalf("Exists should report files only")
	}

	_, err = a.ReadFile("missing.txt")
	if !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestOpenDirectoryAndZip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "module.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := Open(dir)
	if err != nil {
		t.Fatalf("Open dir: %v", err)
	}
	if !a.Exists("module.yaml") {
		t.Fatalf("expected module.yaml in directory archive")
	}

	zipPath := filepath.Join(t.TempDir(), "m.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("pkg/A.class")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("bytes")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	z, err := Open(zipPath)
	if err != nil {
		t.Fatalf("Open zip: %v", err)
	}
	defer z.Close()
	data, err := z.ReadFile("pkg/A.class")
	if err != nil || string(data) != "bytes" {
		t.Fatalf("zip ReadFile = %q, %v", data, err)
	}

	if _, err := Open(filepath.Join(dir, "module.yaml")); err == nil {
		t.Fatalf("expected unsupported archive type error")
	}
}
