// Package version provides client-identification defaults for the BEP 20
// peer-ID prefix and extended-handshake client string.
package version

var (
	DefaultExtendedHandshakeClientVersion string
	// DefaultBep20Prefix should change whenever wire-visible behavior
	// changes in a way other peers could care about.
	DefaultBep20Prefix string
)

func init() {
	DefaultBep20Prefix = "-SC0001-"
	DefaultExtendedHandshakeClientVersion = "swarmcore 0.1"
}
