// Checker point methods, grounded on
// _examples/original_source/crates/theater/src/config/enforcement.rs:
// runtime checks invoked by the host-call interceptor (C7) before a
// sandboxed call is allowed to execute, as distinct from the manifest-time
// ValidateManifestPermissions pass below.
package permission

import (
	"errors"
	"fmt"
)

// Error is returned by every checker method and by ValidateManifestPermissions.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("permission: %s: %s", e.Op, e.Message) }

func denyf(op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}

// ErrHandlerNotPermitted is wrapped into the returned *Error when a
// manifest configures a handler the effective permission set does not
// grant at all.
var ErrHandlerNotPermitted = errors.New("handler not permitted")

// CheckFilesystemOperation validates a filesystem access against perm.
// path and command are optional depending on the operation kind.
func CheckFilesystemOperation(perm *FileSystemPermissions, op string, path, command string) error {
	if perm == nil {
		return denyf("filesystem", "filesystem handler not permitted")
	}
	switch op {
	case "read":
		if !perm.Read {
			return denyf("filesystem", "read not permitted")
		}
	case "write":
		if !perm.Write {
			return denyf("filesystem", "write not permitted")
		}
	case "execute":
		if !perm.Execute {
			return denyf("filesystem", "execute not permitted")
		}
	}
	if path != "" {
		if perm.AllowedPaths == nil {
			return denyf("filesystem", "path %q not allowed: no allowed_paths configured", path)
		}
		if !pathAllowed(perm.AllowedPaths, path) {
			return denyf("filesystem", "path %q not in allowed paths %v", path, perm.AllowedPaths)
		}
	}
	if command != "" && perm.AllowedCommands != nil && !contains(perm.AllowedCommands, command) {
		return denyf("filesystem", "command %q not in allowed commands %v", command, perm.AllowedCommands)
	}
	return nil
}

// CheckHTTPOperation validates an outbound HTTP request against perm.
func CheckHTTPOperation(perm *HttpClientPermissions, method, host string) error {
	if perm == nil {
		return denyf("http-client", "http client handler not permitted")
	}
	if perm.AllowedMethods != nil && !contains(perm.AllowedMethods, method) {
		return denyf("http-client", "method %q not in allowed methods %v", method, perm.AllowedMethods)
	}
	if perm.AllowedHosts != nil && !contains(perm.AllowedHosts, host) {
		return denyf("http-client", "host %q not in allowed hosts %v", host, perm.AllowedHosts)
	}
	return nil
}

// CheckEnvVarAccess validates access to an environment variable.
func CheckEnvVarAccess(perm *EnvironmentPermissions, name string) error {
	if perm == nil {
		return denyf("environment", "environment handler not permitted")
	}
	if perm.DeniedVars != nil && contains(perm.DeniedVars, name) {
		return denyf("environment", "variable %q access denied", name)
	}
	if perm.AllowListAll {
		return nil
	}
	if perm.AllowedVars != nil && contains(perm.AllowedVars, name) {
		return nil
	}
	for _, prefix := range perm.AllowedPrefixes {
		if hasPrefix(name, prefix) {
			return nil
		}
	}
	return denyf("environment", "variable %q access denied", name)
}

// CheckProcessOperation validates spawning another process given the
// actor's current live process count.
func CheckProcessOperation(perm *ProcessPermissions, program string, currentCount int) error {
	if perm == nil {
		return denyf("process", "process handler not permitted")
	}
	if currentCount >= perm.MaxProcesses {
		return denyf("process", "resource limit exceeded: processes = %d > %d", currentCount+1, perm.MaxProcesses)
	}
	if perm.AllowedPrograms != nil && !contains(perm.AllowedPrograms, program) {
		return denyf("process", "command %q not in allowed commands %v", program, perm.AllowedPrograms)
	}
	return nil
}

// CheckRandomOperation validates a randomness request.
func CheckRandomOperation(perm *RandomPermissions, bytes int, secure bool) error {
	if perm == nil {
		return denyf("random", "random handler not permitted")
	}
	if bytes > perm.MaxBytes {
		return denyf("random", "resource limit exceeded: bytes = %d > %d", bytes, perm.MaxBytes)
	}
	if secure && !perm.AllowCryptoSecure {
		return denyf("random", "cryptographically secure random not permitted")
	}
	return nil
}

// CheckRandomRange validates a bounded random-integer request against
// the permission's MaxInt ceiling.
func CheckRandomRange(perm *RandomPermissions, max int64) error {
	if perm == nil {
		return denyf("random", "random handler not permitted")
	}
	if max > perm.MaxInt {
		return denyf("random", "resource limit exceeded: max = %d > %d", max, perm.MaxInt)
	}
	return nil
}

// CheckSupervisorOperation validates that the supervisor capability is
// granted at all; supervisor is a marker capability with no narrower
// per-operation limits.
func CheckSupervisorOperation(perm *SupervisorPermissions, op string) error {
	if perm == nil {
		return denyf("supervisor", "%s: supervisor handler not permitted", op)
	}
	return nil
}

// CheckTimingOperation validates a sleep/timer duration in milliseconds.
func CheckTimingOperation(perm *TimingPermissions, durationMS int64) error {
	if perm == nil {
		return denyf("timing", "timing handler not permitted")
	}
	if durationMS > perm.MaxSleepDurationMS {
		return denyf("timing", "resource limit exceeded: duration = %d > %d", durationMS, perm.MaxSleepDurationMS)
	}
	if durationMS < perm.MinSleepDurationMS {
		return denyf("timing", "duration %d below minimum %d", durationMS, perm.MinSleepDurationMS)
	}
	return nil
}

// ManifestHandler is the minimal shape ValidateManifestPermissions needs
// from a parsed manifest's handler entry: a type tag plus whatever
// narrow fields that handler type checks against the effective
// permission set. Concrete field extraction lives in the manifest
// package to avoid an import cycle; this function only drives the
// per-type dispatch and bookkeeping that enforcement.rs's
// validate_manifest_permissions performs.
type ManifestHandler struct {
	Type            string
	Path            string
	AllowedCommands []string
	Hosts           []string
	Methods         []string
}

// ValidateManifestPermissions checks every configured handler against the
// effective HandlerPermission computed for the actor, rejecting a
// manifest that asks for a capability the effective permissions don't
// grant at all, or a narrower check (allowed path/command/host/method)
// that the effective permissions don't cover.
//
// Grounded on validate_manifest_permissions in
// _examples/original_source/crates/theater/src/config/enforcement.rs.
func ValidateManifestPermissions(handlers []ManifestHandler, effective *HandlerPermission) error {
	for _, h := range handlers {
		switch h.Type {
		case "filesystem":
			if effective.FileSystem == nil {
				return fmt.Errorf("%w: filesystem", ErrHandlerNotPermitted)
			}
			if h.Path != "" && effective.FileSystem.AllowedPaths != nil &&
				!contains(effective.FileSystem.AllowedPaths, h.Path) {
				return denyf("filesystem", "path %q not allowed by effective permissions", h.Path)
			}
			for _, c := range h.AllowedCommands {
				if effective.FileSystem.AllowedCommands != nil && !contains(effective.FileSystem.AllowedCommands, c) {
					return denyf("filesystem", "command %q not allowed by effective permissions", c)
				}
			}
		case "http-client":
			if effective.HTTPClient == nil {
				return fmt.Errorf("%w: http-client", ErrHandlerNotPermitted)
			}
			for _, host := range h.Hosts {
				if effective.HTTPClient.AllowedHosts != nil && !contains(effective.HTTPClient.AllowedHosts, host) {
					return denyf("http-client", "host %q not allowed by effective permissions", host)
				}
			}
			for _, m := range h.Methods {
				if effective.HTTPClient.AllowedMethods != nil && !contains(effective.HTTPClient.AllowedMethods, m) {
					return denyf("http-client", "method %q not allowed by effective permissions", m)
				}
			}
		case "http-framework":
			if effective.HTTPFramework == nil {
				return fmt.Errorf("%w: http-framework", ErrHandlerNotPermitted)
			}
		case "process":
			if effective.Process == nil {
				return fmt.Errorf("%w: process", ErrHandlerNotPermitted)
			}
			for _, c := range h.AllowedCommands {
				if effective.Process.AllowedPrograms != nil && !contains(effective.Process.AllowedPrograms, c) {
					return denyf("process", "command %q not allowed by effective permissions", c)
				}
			}
		case "environment":
			if effective.Environment == nil {
				return fmt.Errorf("%w: environment", ErrHandlerNotPermitted)
			}
		case "random":
			if effective.Random == nil {
				return fmt.Errorf("%w: random", ErrHandlerNotPermitted)
			}
		case "timing":
			if effective.Timing == nil {
				return fmt.Errorf("%w: timing", ErrHandlerNotPermitted)
			}
		case "supervisor":
			if effective.Supervisor == nil {
				return fmt.Errorf("%w: supervisor", ErrHandlerNotPermitted)
			}
		case "message-server":
			if effective.MessageServer == nil {
				return fmt.Errorf("%w: message-server", ErrHandlerNotPermitted)
			}
		case "store":
			if effective.Store == nil {
				return fmt.Errorf("%w: store", ErrHandlerNotPermitted)
			}
		case "runtime", "replay":
			// Always permitted: runtime bookkeeping and replay are not
			// gated by a capability grant.
		}
	}
	return nil
}

// pathAllowed reports whether path is within one of allowed, matching
// enforcement.rs's allowed_paths.iter().any(|a| path.starts_with(a)): an
// allowed entry of "/data" also permits "/data/x", not just "/data"
// itself.
func pathAllowed(allowed []string, path string) bool {
	for _, a := range allowed {
		if hasPrefix(path, a) {
			return true
		}
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
