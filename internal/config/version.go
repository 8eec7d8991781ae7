package config

import "fmt"

// CurrentVersion is the config file format this build reads. A file
// without a version is treated as current.
const CurrentVersion = 1

const reasonNewer = "newer than this build"

// VersionError describes a configuration version mismatch.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e.Reason == reasonNewer {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade sol to continue", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is %s (current: %d)", e.Version, e.Reason, e.Current)
}

// ValidateVersion ensures the provided config version is supported.
func ValidateVersion(version int) error {
	switch {
	case version <= 0:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "invalid"}
	case version > CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: reasonNewer}
	}
	return nil
}
