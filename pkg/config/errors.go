package config

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrProfileNotFound indicates the named profile is absent from the file.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrPointerCycle indicates pointer profiles form a loop.
	ErrPointerCycle = errors.New("cyclic pointer reference")

	// ErrPointerTargetMissing indicates a pointer profile without a ptr field.
	ErrPointerTargetMissing = errors.New("pointer profile missing ptr")

	// ErrIncompatibleVersion indicates the profile file version is unsupported.
	ErrIncompatibleVersion = errors.New("incompatible profile version")

	// ErrInvalidTOML indicates TOML parsing failed.
	ErrInvalidTOML = errors.New("invalid TOML syntax")

	// ErrMissingEnv indicates a required environment variable is unset.
	ErrMissingEnv = errors.New("missing environment variable")

	// ErrMissingRequiredField indicates a profile entry lacks a required field.
	ErrMissingRequiredField = errors.New("missing required field")
)

const (
	// EnvOpenAIAPIKey is the environment variable holding the OpenAI API key.
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	// EnvGeminiAPIKey is the environment variable holding the Gemini API key.
	EnvGeminiAPIKey = "GEMINI_API_KEY"

	// EnvRepoRoot is the environment variable naming the root directory
	// under which repositories live.
	EnvRepoRoot = "REPO_ROOT"

	// EnvJWTSecretKey is the environment variable holding the shared secret
	// used to sign and validate WebSocket tokens.
	EnvJWTSecretKey = "JWT_SECRET_KEY"
)

// JWTSecret returns the shared secret used to sign and validate WebSocket
// tokens, read from EnvJWTSecretKey.
func JWTSecret() (string, error) {
	secret := os.Getenv(EnvJWTSecretKey)
	if secret == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, EnvJWTSecretKey)
	}
	return secret, nil
}

// LoadError wraps configuration loading errors with file context.
type LoadError struct {
	File string
	Err  error
}

// Error returns the formatted error message.
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
