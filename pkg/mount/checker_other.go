//go:build !unix

package mount

// isMount cannot be determined without unix stat semantics; scratch volumes
// are only provisioned on unix hosts.
func isMount(string) bool {
	return false
}
