//go:build !darwin

package audiocapture

func newDevice() (Device, error) {
	return nil, ErrUnsupported
}
