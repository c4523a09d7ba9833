//go:build !linux

package rawls

const batchSupported = false

func newBatchOpener(*batchPool) (Opener, error) {
	return nil, ErrBatchUnsupported
}
