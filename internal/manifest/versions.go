// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type catalog struct {
	Versions map[string]any `toml:"versions"`
}

// ParseVersions reads the [versions] table of a Gradle version catalog.
// Rich versions use their strictly, require or prefer value, in that order.
func ParseVersions(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse version catalog %s: %w", path, err)
	}

	versions := make(map[string]string, len(c.Versions))
	for name, v := range c.Versions {
		switch v := v.(type) {
		case string:
			versions[name] = v
		case map[string]any:
			for _, key := range []string{"strictly", "require", "prefer"} {
				if s, ok := v[key].(string); ok && s != "" {
					versions[name] = s
					break
				}
			}
		}
	}
	return versions, nil
}
