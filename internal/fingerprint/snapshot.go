// SPDX-License-Identifier: MPL-2.0

package fingerprint

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Injection markers. A member carrying either one takes part in the
// dependency injection graph.
const (
	InjectAnnotation         = "Ljavax/inject/Inject;"
	AssistedInjectAnnotation = "Ldagger/assisted/AssistedInject;"
)

// Snapshot is the canonical injection shape of a class: one
// "<name>, <descriptor>" line per injectable constructor, method or field,
// sorted and joined by newlines.
type Snapshot struct {
	Text string
	Hash uint64
}

// NewSnapshot builds the snapshot of a parsed class.
func NewSnapshot(cf *ClassFile) Snapshot {
	var lines []string
	for _, group := range [][]Member{cf.Methods, cf.Fields} {
		for _, m := range group {
			if injectable(m) {
				lines = append(lines, m.Name+", "+m.Descriptor)
			}
		}
	}
	slices.Sort(lines)
	text := strings.Join(lines, "\n")
	return Snapshot{Text: text, Hash: xxhash.Sum64String(text)}
}

// SnapshotFile parses the class file at path and returns its snapshot.
func SnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read class %s: %w", path, err)
	}
	cf, err := ParseClass(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse class %s: %w", path, err)
	}
	return NewSnapshot(cf), nil
}

func injectable(m Member) bool {
	return slices.Contains(m.Annotations, InjectAnnotation) ||
		slices.Contains(m.Annotations, AssistedInjectAnnotation)
}
