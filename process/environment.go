package process

import (
	"os"
	"runtime"
)

// Environment is the host-supplied process context: working directory,
// platform flags, and an environment-variable overlay. The core treats
// every field as an opaque string (or opaque map); the host is
// responsible for anything resembling interpreter discovery.
type Environment struct {
	// WorkingDirectory is the default directory for spawned processes.
	WorkingDirectory string
	// IsWindows flags the host platform for argument/path conventions.
	IsWindows bool
	// ExecutableExtension is appended when resolving a bare program name
	// (".exe" on Windows, "" elsewhere).
	ExecutableExtension string
	// HostInterpreterDir locates a bundled interpreter the host ships
	// alongside itself, for hosts that embed their own toolchain rather
	// than relying on one found on PATH.
	HostInterpreterDir string
	// EnvironmentVariables overlays the process's inherited environment.
	EnvironmentVariables map[string]string
}

// DefaultEnvironment builds an Environment from the current process.
func DefaultEnvironment() Environment {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	wd, _ := os.Getwd()
	return Environment{
		WorkingDirectory:    wd,
		IsWindows:           runtime.GOOS == "windows",
		ExecutableExtension: ext,
	}
}

// Resolve returns name with ExecutableExtension appended if name has no
// extension already and IsWindows is set.
func (e Environment) Resolve(name string) string {
	if !e.IsWindows || e.ExecutableExtension == "" {
		return name
	}
	for i := len(name) - 1; i >= 0 && name[i] != '/' && name[i] != '\\'; i-- {
		if name[i] == '.' {
			return name
		}
	}
	return name + e.ExecutableExtension
}
