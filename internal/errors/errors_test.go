package errors

import (
	"fmt"
	"testing"
)

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("test error")).Build()

	if ee.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Error())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic', got '%s'", ee.Category)
	}
}

func TestCategoryMatching(t *testing.T) {
	t.Parallel()

	sentinel := New(nil).Component("heap").Category(CategoryNotReady).Build()
	err := New(fmt.Errorf("module still loading")).
		Component("heap").
		Category(CategoryNotReady).
		Context("region", "inBufs").
		Build()

	if !Is(err, sentinel) {
		t.Error("Expected errors with the same category to match")
	}

	other := New(nil).Category(CategoryValidation).Build()
	if Is(err, other) {
		t.Error("Expected errors with different categories not to match")
	}

	wrapped := fmt.Errorf("ensure region: %w", err)
	if !Is(wrapped, sentinel) {
		t.Error("Expected wrapped error to match sentinel")
	}
	if !IsCategory(wrapped, CategoryNotReady) {
		t.Error("Expected IsCategory to see through fmt wrapping")
	}
}

func TestComponentScopedMatching(t *testing.T) {
	t.Parallel()

	sentinel := New(nil).Component("heap").Category(CategoryNativeCall).Build()
	native := New(fmt.Errorf("wasm trap: out of bounds")).
		Component("wasmhost").
		Category(CategoryNativeCall).
		Build()
	anonymous := New(fmt.Errorf("unreachable")).Category(CategoryNativeCall).Build()

	if Is(native, sentinel) {
		t.Error("Expected an error from another component not to match a component sentinel")
	}
	if Is(fmt.Errorf("allocate: %w", anonymous), sentinel) {
		t.Error("Expected an error without a component not to match a component sentinel")
	}

	// Sentinels without a component match by category alone
	generic := New(nil).Category(CategoryNativeCall).Build()
	if !Is(native, generic) || !Is(anonymous, generic) {
		t.Error("Expected category-only sentinels to match any component")
	}

	// Detecting a component later does not change what the error matches
	_ = anonymous.GetComponent()
	if Is(anonymous, sentinel) {
		t.Error("Expected detected components to be ignored when matching")
	}
}

func TestCategoryInheritance(t *testing.T) {
	t.Parallel()

	inner := New(fmt.Errorf("out of memory")).Category(CategoryAllocation).Build()
	outer := New(fmt.Errorf("resize: %w", inner)).Build()

	if outer.Category != CategoryAllocation {
		t.Errorf("Expected inherited category '%s', got '%s'", CategoryAllocation, outer.Category)
	}
}

func TestContextCopy(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("bad size")).
		Category(CategoryValidation).
		Context("size", 0).
		Build()

	ctx := ee.GetContext()
	ctx["size"] = 42

	if ee.GetContext()["size"] != 0 {
		t.Error("Expected GetContext to return a copy")
	}
}

func TestNilErrorMessage(t *testing.T) {
	t.Parallel()

	ee := New(nil).Category(CategoryState).Build()
	if ee.Error() != string(CategoryState) {
		t.Errorf("Expected category as message, got '%s'", ee.Error())
	}
}

func TestFileError(t *testing.T) {
	t.Parallel()

	ee := FileError(fmt.Errorf("open failed"), "open-wav", "/tmp/in.wav")
	ctx := ee.GetContext()

	if ee.Category != CategoryFileIO {
		t.Errorf("Expected category '%s', got '%s'", CategoryFileIO, ee.Category)
	}
	if ctx["operation"] != "open-wav" {
		t.Errorf("Expected operation 'open-wav', got '%v'", ctx["operation"])
	}
	if ctx["file_path"] != "/tmp/in.wav" {
		t.Errorf("Expected file_path '/tmp/in.wav', got '%v'", ctx["file_path"])
	}
}

func TestLogAttrs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("ensure: %w", New(fmt.Errorf("allocator returned null")).
		Component("heap").
		Category(CategoryAllocation).
		Context("size", 512).
		Context("region", "inBufs").
		Build())

	attrs := LogAttrs(err)
	want := []any{"error", err, "component", "heap", "category", "native-allocation", "region", "inBufs", "size", 512}
	if fmt.Sprint(attrs) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, attrs)
	}

	plain := NewStd("plain")
	if got := LogAttrs(plain); len(got) != 2 {
		t.Errorf("Expected only the error attribute for plain errors, got %v", got)
	}
}
