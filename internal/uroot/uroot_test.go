// SPDX-License-Identifier: MPL-2.0

package uroot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

type recordingCommand struct {
	name string
	args []string
	err  error
}

func (c *recordingCommand) Name() string { return c.name }

func (c *recordingCommand) Run(_ context.Context, args []string) error {
	c.args = args
	return c.err
}

func handlerContext(dir string, stdout *bytes.Buffer) context.Context {
	return WithHandlerContext(context.Background(), &HandlerContext{
		Stdin:     strings.NewReader(""),
		Stdout:    stdout,
		Stderr:    &bytes.Buffer{},
		Dir:       dir,
		LookupEnv: os.LookupEnv,
	})
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	cmd := &recordingCommand{name: "echo"}
	r.Register(cmd)

	if _, ok := r.Lookup("echo"); !ok {
		t.Fatal("Lookup(echo) failed")
	}
	if err := r.Run(context.Background(), "echo", []string{"echo", "hi"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(cmd.args, []string{"echo", "hi"}) {
		t.Errorf("args = %v", cmd.args)
	}

	err := r.Run(context.Background(), "missing", []string{"missing"})
	if err == nil || !strings.HasPrefix(err.Error(), "[uroot] missing:") {
		t.Errorf("Run(missing) error = %v", err)
	}
}

func TestRegistry_PanicOnDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&recordingCommand{name: "x"})
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register(&recordingCommand{name: "x"})
}

func TestNewDefaultRegistry(t *testing.T) {
	t.Parallel()

	want := []string{"cp", "find", "mkdir", "mv", "rm"}
	if got := NewDefaultRegistry().Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, filepath.Join(dir, "final", "com", "acme", "Repo_Factory.class"))
	touch(t, filepath.Join(dir, "final", "com", "acme", "Repo.class"))
	touch(t, filepath.Join(dir, "final", "com", "acme", "Repo$Inner.class"))
	touch(t, filepath.Join(dir, "final", "a", "Api_Factory.class"))

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "by name",
			args: []string{"find", "final", "-name", "*_Factory.class"},
			want: []string{"final/a/Api_Factory.class", "final/com/acme/Repo_Factory.class"},
		},
		{
			name: "files only",
			args: []string{"find", "final/com", "-type", "f"},
			want: []string{"final/com/acme/Repo$Inner.class", "final/com/acme/Repo.class", "final/com/acme/Repo_Factory.class"},
		},
		{
			name: "directories",
			args: []string{"find", "final", "-type", "d", "-name", "a*"},
			want: []string{"final/a", "final/com/acme"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			if err := NewDefaultRegistry().Run(handlerContext(dir, &out), "find", tt.args); err != nil {
				t.Fatalf("find error = %v", err)
			}
			got := strings.Fields(out.String())
			want := make([]string, 0, len(tt.want))
			for _, w := range tt.want {
				want = append(want, filepath.FromSlash(w))
			}
			if !slices.Equal(got, want) {
				t.Errorf("find = %v, want %v", got, want)
			}
		})
	}
}

func TestFind_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, args := range [][]string{
		{"find", "missing"},
		{"find", ".", "-name"},
		{"find", ".", "-type", "l"},
		{"find", ".", "-mtime", "1"},
	} {
		var out bytes.Buffer
		err := NewDefaultRegistry().Run(handlerContext(dir, &out), "find", args)
		if err == nil || !strings.HasPrefix(err.Error(), "[uroot] find:") {
			t.Errorf("find %v error = %v", args[1:], err)
		}
	}
}

func TestCoreCommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "Repo_Factory.class")
	touch(t, src)
	ctx := handlerContext(dir, &bytes.Buffer{})
	r := NewDefaultRegistry()

	if err := r.Run(ctx, "mv", []string{"mv", src, src + "_TEMP"}); err != nil {
		t.Fatalf("mv error = %v", err)
	}
	if _, err := os.Stat(src + "_TEMP"); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}

	nested := filepath.Join(dir, "kapt", "stubs", "debug")
	if err := r.Run(ctx, "mkdir", []string{"mkdir", "-p", nested}); err != nil {
		t.Fatalf("mkdir error = %v", err)
	}
	touch(t, filepath.Join(nested, "A.java"))

	if err := r.Run(ctx, "rm", []string{"rm", "-r", filepath.Join(dir, "kapt")}); err != nil {
		t.Fatalf("rm error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "kapt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("kapt dir still present: %v", err)
	}

	// cp -r merges into an existing tree and overwrites files.
	from, to := filepath.Join(dir, "intermediate", "com"), filepath.Join(dir, "final")
	touch(t, filepath.Join(to, "com", "x", "Foo.class"))
	touch(t, filepath.Join(to, "com", "y", "Bar.class"))
	touch(t, filepath.Join(from, "x", "Foo.class"))
	if err := os.WriteFile(filepath.Join(from, "x", "Foo.class"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Run(ctx, "cp", []string{"cp", "-r", from, to}); err != nil {
		t.Fatalf("cp error = %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(to, "com", "x", "Foo.class")); err != nil || string(data) != "new" {
		t.Errorf("Foo.class = %q, %v, want overwritten", data, err)
	}
	if _, err := os.Stat(filepath.Join(to, "com", "y", "Bar.class")); err != nil {
		t.Errorf("Bar.class dropped by cp: %v", err)
	}

	err := r.Run(ctx, "mv", []string{"mv", filepath.Join(dir, "nope"), filepath.Join(dir, "dst")})
	if err == nil || !strings.HasPrefix(err.Error(), "[uroot] mv:") {
		t.Errorf("mv missing source error = %v", err)
	}
}
