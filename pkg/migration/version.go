package migration

import (
	"github.com/Masterminds/semver/v3"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// CheckVersionGate rejects a v2 bundle whose tenor_version is not
// semver-greater-or-equal to v1's, before any diff is computed — a detail
// the distilled spec dropped but the original implementation enforces by
// reading both bundles' declared versions first.
func CheckVersionGate(v1, v2 *bundle.Contract) error {
	v1Ver, err := semver.NewVersion(v1.TenorVersion)
	if err != nil {
		return tenorerr.Wrap(tenorerr.KindVersionRegression, err, "bundle %q has an unparseable tenor_version %q", v1.ID, v1.TenorVersion)
	}
	v2Ver, err := semver.NewVersion(v2.TenorVersion)
	if err != nil {
		return tenorerr.Wrap(tenorerr.KindVersionRegression, err, "bundle %q has an unparseable tenor_version %q", v2.ID, v2.TenorVersion)
	}
	if v2Ver.LessThan(v1Ver) {
		return tenorerr.New(tenorerr.KindVersionRegression, "bundle %q tenor_version %s is lower than %q's %s", v2.ID, v2.TenorVersion, v1.ID, v1.TenorVersion)
	}
	return nil
}
