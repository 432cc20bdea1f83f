// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

const testSchema = `
#Config: close({
	build?: close({
		workers?: int & >=0
		jvm_target?: string
	})
	codegen?: close({
		artifacts?: [...string]
	})
})
`

func TestDecodeMap(t *testing.T) {
	t.Parallel()

	got, err := DecodeMap(testSchema, "#Config", []byte(`build: workers: 4`), "hotpatch.cue")
	if err != nil {
		t.Fatalf("DecodeMap() error = %v", err)
	}
	build, ok := got["build"].(map[string]any)
	if !ok {
		t.Fatalf("build = %#v", got["build"])
	}
	if _, ok := build["jvm_target"]; ok {
		t.Error("unset optional fields must not be decoded")
	}
	if fmt.Sprint(build["workers"]) != "4" {
		t.Errorf("workers = %#v, want 4", build["workers"])
	}
}

func TestDecodeMap_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{"syntax", `build: {`, "hotpatch.cue"},
		{"type", `build: workers: "four"`, "build.workers"},
		{"constraint", `build: workers: -1`, "build.workers"},
		{"unknown field", `device: serial: "x"`, "device"},
		{"list element", `codegen: artifacts: ["a", 2]`, "codegen.artifacts[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeMap(testSchema, "#Config", []byte(tt.data), "hotpatch.cue")
			if err == nil {
				t.Fatal("DecodeMap() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestDecodeMap_TooLarge(t *testing.T) {
	t.Parallel()

	data := make([]byte, DefaultMaxFileSize+1)
	if _, err := DecodeMap(testSchema, "#Config", data, "big.cue"); err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("DecodeMap() error = %v", err)
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x") != nil {
		t.Error("FormatError(nil) should be nil")
	}
	plain := errors.New("boom")
	err := FormatError(plain, "hotpatch.cue")
	if !errors.Is(err, plain) || err.Error() != "hotpatch.cue: boom" {
		t.Errorf("FormatError(plain) = %v", err)
	}

	wrapped := fmt.Errorf("read config: %w", fs.ErrNotExist)
	if err := FormatError(wrapped, "hotpatch.cue"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("FormatError(wrapped) = %v, want fs.ErrNotExist in chain", err)
	}
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"build"}, "build"},
		{[]string{"codegen", "artifacts", "0"}, "codegen.artifacts[0]"},
		{[]string{"a", "1", "b", "22"}, "a[1].b[22]"},
		{[]string{"0"}, "0"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.in); got != tt.want {
			t.Errorf("formatPath(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
