// Package version gates the persisted config format: every bundle
// common/persistance writes is stamped with the semver of the layout it
// was written with, and a node refuses to start the mesh if a loaded
// bundle's major version differs from the one this build writes. This
// supplements, not replaces, the magic-word check persisted bundles
// also carry.
package version

import (
	"fmt"

	"github.com/blang/semver"
)

// ConfigFormat is the persisted-config layout version this build
// writes and the version against which loaded bundles are checked.
// Bump the minor version for additive changes, the major version for
// breaking ones.
var ConfigFormat = semver.MustParse("1.0.0")

// CheckCompatible reports whether a bundle stamped with loaded can be
// read by a build that writes ConfigFormat: the major version must
// match exactly, matching semver's "breaking change" convention; older
// minor/patch bundles are fine since fields added later simply read as
// their zero value.
func CheckCompatible(loaded semver.Version) error {
	if loaded.Major != ConfigFormat.Major {
		return fmt.Errorf("persisted config format v%s is incompatible with this build (v%s)", loaded, ConfigFormat)
	}
	return nil
}

// DecodeConfigFormat reconstructs the semver.Version a persisted bundle
// stamps itself with from its 3-byte (major, minor, patch) wire form.
func DecodeConfigFormat(major, minor, patch uint8) semver.Version {
	return semver.Version{Major: uint64(major), Minor: uint64(minor), Patch: uint64(patch)}
}
