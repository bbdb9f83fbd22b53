// Package config loads and validates velo.json project configuration.
//
// Configuration is discovered by walking up from the working directory
// until a velo.json is found. Missing fields are filled with defaults,
// and all path accessors resolve relative paths against the config
// file's directory.
package config
