// Package wasmtest provides tiny hand-assembled native modules for tests.
package wasmtest

import (
	"os"
	"path/filepath"
	"testing"
)

// CopyModule exports one page of memory and three functions:
//
//	(global $top (mut i32) (i32.const 1024))
//	(func $malloc (param $size i32) (result i32) (local $end i32)
//	  global.get $top  local.get $size  i32.add  local.tee $end
//	  i32.const 65536  i32.gt_u
//	  if  i32.const 0  return  end
//	  global.get $top  local.get $end  global.set $top)
//	(func $free (param i32))
//	(func $process (param $in i32) (param $out i32) (param $bpc i32) (param $ch i32)
//	  local.get $out  local.get $in  local.get $bpc  local.get $ch  i32.mul  memory.copy)
//
// malloc is a bump allocator that returns 0 once the page is exhausted, free
// is a no-op, and process copies every input channel to the output region.
var CopyModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (i32)->i32, (i32)->(), (i32 i32 i32 i32)->()
	0x01, 0x11, 0x03,
	0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x01, 0x7f, 0x00,
	0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x00,
	// function section
	0x03, 0x04, 0x03, 0x00, 0x01, 0x02,
	// memory section: one page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// global section: mutable i32 = 1024
	0x06, 0x07, 0x01, 0x7f, 0x01, 0x41, 0x80, 0x08, 0x0b,
	// export section
	0x07, 0x24, 0x04,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x06, 'm', 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
	0x04, 'f', 'r', 'e', 'e', 0x00, 0x01,
	0x07, 'p', 'r', 'o', 'c', 'e', 's', 's', 0x00, 0x02,
	// code section
	0x0a, 0x31, 0x03,
	// malloc
	0x1c, 0x01, 0x01, 0x7f,
	0x23, 0x00, 0x20, 0x00, 0x6a, 0x22, 0x01,
	0x41, 0x80, 0x80, 0x04, 0x4b,
	0x04, 0x40, 0x41, 0x00, 0x0f, 0x0b,
	0x23, 0x00, 0x20, 0x01, 0x24, 0x00, 0x0b,
	// free
	0x02, 0x00, 0x0b,
	// process
	0x0f, 0x00,
	0x20, 0x01, 0x20, 0x00, 0x20, 0x02, 0x20, 0x03, 0x6c,
	0xfc, 0x0a, 0x00, 0x00, 0x0b,
}

// EmptyModule is a valid module with no exports
var EmptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// WriteModule writes binary to a .wasm file in a test temp directory and returns its path
func WriteModule(t testing.TB, binary []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "module.wasm")
	if err := os.WriteFile(path, binary, 0o600); err != nil {
		t.Fatalf("failed to write test module: %v", err)
	}
	return path
}
