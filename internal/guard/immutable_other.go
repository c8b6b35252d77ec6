//go:build !linux

package guard

func getImmutable(string) (bool, error) {
	return false, ErrImmutableUnsupported
}

func setImmutable(string, bool) error {
	return ErrImmutableUnsupported
}
