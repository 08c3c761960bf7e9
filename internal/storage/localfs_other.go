//go:build !linux

package storage

// Detection is linux-only; other platforms are assumed local.
func detectFilesystemType(string) (string, error) {
	return "", nil
}
