// SPDX-License-Identifier: MPL-2.0

// Package config loads hotpatch settings using Viper with CUE as the file
// format.
//
// The first file found is used: the path given with --config, ./hotpatch.cue
// in the project directory, then config.cue in the user configuration
// directory ($XDG_CONFIG_HOME/hotpatch on Linux). Files are validated against
// the embedded schema (config_schema.cue). HOTPATCH_* variables, from the
// environment or the project's .env file, override file values.
package config
