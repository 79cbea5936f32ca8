package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

// CheckSchemaCompatibility reports whether a binary may run against a
// database migrated by schemaVersion.
//
// Major and minor must match. Patch releases never change the schema, so
// 1.2.0 runs against a database migrated by 1.2.5. A "main" build on either
// side skips the check.
func CheckSchemaCompatibility(binaryVersion, schemaVersion string) error {
	binaryVersion = strings.TrimPrefix(binaryVersion, "v")
	schemaVersion = strings.TrimPrefix(schemaVersion, "v")

	if binaryVersion == "main" || schemaVersion == "main" {
		return nil
	}

	binary, err := semver.NewVersion(binaryVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeConfigInvalid, err, "invalid binary version %q", binaryVersion)
	}

	schema, err := semver.NewVersion(schemaVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeConfigInvalid, err, "invalid schema version %q", schemaVersion)
	}

	if binary.Major() != schema.Major() || binary.Minor() != schema.Minor() {
		return errors.Newf(errors.ErrCodeConfigInvalid,
			"database schema was migrated by %d.%d.x, this binary is %d.%d.x: run migrate",
			schema.Major(), schema.Minor(), binary.Major(), binary.Minor())
	}

	return nil
}
