// SPDX-License-Identifier: MPL-2.0

package project

import (
	"errors"
	"testing"
)

func TestNewModule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantName string
		wantPath string
	}{
		{":app", "app", "app"},
		{"feature:login", "feature:login", "feature/login"},
		{" :core:ui:widgets ", "core:ui:widgets", "core/ui/widgets"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			m := NewModule(tt.in)
			if m.Name != tt.wantName || m.Path != tt.wantPath {
				t.Errorf("NewModule(%q) = %+v, want {%s %s}", tt.in, m, tt.wantName, tt.wantPath)
			}
		})
	}
}

func TestModule_String(t *testing.T) {
	t.Parallel()
	if got := NewModule("feature:login").String(); got != ":feature:login" {
		t.Errorf("String() = %q", got)
	}
}

func TestModuleOf(t *testing.T) {
	t.Parallel()

	m, err := ModuleOf("feature/login/src/main/kotlin/com/acme/Login.kt")
	if err != nil {
		t.Fatalf("ModuleOf() error = %v", err)
	}
	if m != NewModule(":feature:login") {
		t.Errorf("ModuleOf() = %+v", m)
	}

	_, err = ModuleOf("README.md")
	if !errors.Is(err, ErrNotModuleSource) {
		t.Errorf("ModuleOf(README.md) error = %v, want ErrNotModuleSource", err)
	}
	var nmErr *NotModuleSourceError
	if !errors.As(err, &nmErr) || nmErr.Path != "README.md" {
		t.Errorf("expected *NotModuleSourceError naming the path, got %v", err)
	}
}

func TestClassReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "lib/src/main/kotlin/com/acme/Foo.kt", want: "com/acme/Foo"},
		{in: "app/src/debug/java/Bar.kt", want: "Bar"},
		{in: "lib/src/main/Foo.kt", wantErr: true},
		{in: "lib/Foo.kt", wantErr: true},
		{in: "lib/src/main/res/Foo.kt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ClassReference(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ClassReference(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ClassReference(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ClassReference(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsSupportedSource(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"lib/src/main/kotlin/Foo.kt":      true,
		"lib/src/main/java/Foo.kt":        true,
		"lib/src/main/java/Foo.java":      false,
		"lib/src/test/kotlin/FooTest.kt":  false,
		"lib/src/test/java/FooTest.kt":    false,
		"lib/src/androidTest/java/UiT.kt": true,
	}
	for path, want := range tests {
		if got := IsSupportedSource(path); got != want {
			t.Errorf("IsSupportedSource(%q) = %v, want %v", path, got, want)
		}
	}
}
