package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSortedImportNamesIsSortedAndNonEmpty(t *testing.T) {
	names := sortedImportNames()
	if len(names) == 0 {
		t.Fatalf("expected at least one imported function name")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestCompileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "hello.c")
	src := `
		int add(int a, int b) {
			return a + b;
		}
		int main() {
			int total;
			total = add(1, 2);
			return total;
		}
	`
	if err := os.WriteFile(srcPath, []byte(src), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outputFile = filepath.Join(dir, "hello.wasm")
	exportName = "_start"
	emitWat = true
	defer func() {
		outputFile = ""
		exportName = ""
		emitWat = false
	}()

	if err := compile(srcPath); err != nil {
		t.Fatalf("compile: %v", err)
	}

	wasmBytes, err := os.ReadFile(outputFile)
	if err != nil {
		t.Fatalf("reading compiled module: %v", err)
	}
	if len(wasmBytes) < 8 {
		t.Fatalf("output too small to be a module: %d bytes", len(wasmBytes))
	}
	wantMagic := []byte{0x00, 0x61, 0x73, 0x6D}
	for i, b := range wantMagic {
		if wasmBytes[i] != b {
			t.Fatalf("missing wasm magic header, got % x", wasmBytes[:4])
		}
	}

	irDumpPath := filepath.Join(dir, "hello.ir.txt")
	if _, err := os.Stat(irDumpPath); err != nil {
		t.Errorf("expected --emit-wat to write %s: %v", irDumpPath, err)
	}
}

func TestCompileMissingMainIsAnError(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "nomain.c")
	if err := os.WriteFile(srcPath, []byte(`int add(int a, int b) { return a + b; }`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outputFile = filepath.Join(dir, "nomain.wasm")
	emitWat = false
	defer func() { outputFile = "" }()

	if err := compile(srcPath); err == nil {
		t.Fatalf("expected an error for a program with no \"main\" function")
	}
}
