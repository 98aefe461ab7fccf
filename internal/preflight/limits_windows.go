package preflight

// fileDescriptorLimit is not meaningful on Windows.
func fileDescriptorLimit() (int, bool) {
	return 0, false
}
