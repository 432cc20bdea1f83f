// SPDX-License-Identifier: MPL-2.0

package config

import "context"

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific file when set.
	ConfigFilePath string
	// ProjectDir is searched for hotpatch.cue and .env; defaults to ".".
	ProjectDir string
	// UserConfigDir overrides the user configuration directory lookup.
	UserConfigDir string
}

// Provider loads configuration from explicit options.
type Provider interface {
	Load(ctx context.Context, opts LoadOptions) (*Config, error)
}

type fileProvider struct{}

// NewProvider creates a Provider reading CUE files and the environment.
func NewProvider() Provider {
	return &fileProvider{}
}

func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	return loadWithOptions(ctx, opts)
}

func (o LoadOptions) projectDir() string {
	if o.ProjectDir == "" {
		return "."
	}
	return o.ProjectDir
}
