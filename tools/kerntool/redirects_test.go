package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFindRedirects(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module example.com/kern\n\ngo 1.24\n")
	writeFile(t, filepath.Join(root, "kernel", "kfmt", "panic.go"), `package kfmt

// Panic halts.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {}

//go:redirect-from runtime.throw
func panicString(msg string) {}

func unrelated() {}
`)
	writeFile(t, filepath.Join(root, "kernel", "kfmt", "panic_test.go"), `package kfmt

//go:redirect-from runtime.ignored
func testOnly() {}
`)

	redirects, err := findRedirects(root)
	if err != nil {
		t.Fatal(err)
	}

	exp := []*redirect{
		{src: "runtime.gopanic", dst: "example.com/kern/kernel/kfmt.Panic"},
		{src: "runtime.throw", dst: "example.com/kern/kernel/kfmt.panicString"},
	}
	if diff := cmp.Diff(exp, redirects, cmp.AllowUnexported(redirect{})); diff != "" {
		t.Fatalf("redirect mismatch (-want +got):\n%s", diff)
	}
}

func TestFindRedirectsInModule(t *testing.T) {
	redirects, err := findRedirects(filepath.Join("..", ".."))
	if err != nil {
		t.Fatal(err)
	}

	found := make(map[string]string)
	for _, r := range redirects {
		found[r.src] = r.dst
	}
	if exp := "tutorialos/kernel/kfmt.Panic"; found["runtime.gopanic"] != exp {
		t.Fatalf("expected runtime.gopanic to redirect to %q; got %q", exp, found["runtime.gopanic"])
	}
}

func TestFindRedirectsErrors(t *testing.T) {
	root := t.TempDir()
	if _, err := findRedirects(root); err == nil {
		t.Fatal("expected an error when go.mod is missing")
	}

	writeFile(t, filepath.Join(root, "go.mod"), "go 1.24\n")
	if _, err := findRedirects(root); err == nil {
		t.Fatal("expected an error when the module directive is missing")
	}

	writeFile(t, filepath.Join(root, "go.mod"), "module example.com/kern\n")
	writeFile(t, filepath.Join(root, "kernel", "bad.go"), `package kernel

//go:redirect-from runtime.a runtime.b
func Bad() {}
`)
	if _, err := findRedirects(root); err == nil {
		t.Fatal("expected an error for a malformed directive")
	}
}

func TestModulePath(t *testing.T) {
	specs := []struct {
		gomod  string
		exp    string
		expErr bool
	}{
		{"module tutorialos\n", "tutorialos", false},
		{"module tutorialos // kernel image\n\ngo 1.24\n", "tutorialos", false},
		{"// leading comment\nmodule \"example.com/kern\"\n", "example.com/kern", false},
		{"module (\n\ttutorialos\n)\n", "tutorialos", false},
		{"go 1.24\n", "", true},
		{"module a b\n", "", true},
	}

	for specIndex, spec := range specs {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "go.mod"), spec.gomod)

		got, err := modulePath(root)
		if spec.expErr {
			if err == nil {
				t.Errorf("[spec %d] expected an error; got module path %q", specIndex, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}
		if got != spec.exp {
			t.Errorf("[spec %d] expected module path %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestEncodeRedirectTable(t *testing.T) {
	var buf bytes.Buffer
	err := encodeRedirectTable(&buf, []*redirect{
		{srcVMA: 0x1000, dstVMA: 0x2000},
		{srcVMA: 0x3000, dstVMA: 0x4000},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := make([]uint64, buf.Len()/8)
	if err := binary.Read(&buf, binary.LittleEndian, got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint64{0x1000, 0x2000, 0x3000, 0x4000}, got); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestPopulateRejectsNonELF(t *testing.T) {
	img := filepath.Join(t.TempDir(), "kernel.bin")
	writeFile(t, img, "not an elf file")

	if err := resolveRedirectSymbols(nil, img); err == nil {
		t.Fatal("expected an error for a non-ELF image")
	}
	if err := writeRedirectTable(nil, img); err == nil {
		t.Fatal("expected an error for a non-ELF image")
	}
}
