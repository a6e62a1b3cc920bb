package mount

import "os"

// OSChecker inspects the real filesystem.
type OSChecker struct{}

var _ Checker = OSChecker{}

// IsDir reports whether path exists and is a directory.
func (OSChecker) IsDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

// IsMount reports whether path is a mount point.
func (OSChecker) IsMount(path string) bool {
	return isMount(path)
}
