package version

// version is the version of the router.
//
// This value is expected to be set via build-time injection:
//
//	go build -ldflags "-X github.com/yanet-platform/vrouter/controlplane/internal/version.version=v1.2.3"
var version string

// Version returns the version of the router.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}
