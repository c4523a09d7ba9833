package rawls

// Decision is the outcome of a device check.
type Decision int

const (
	Proceed Decision = iota
	Skip
)

// DeviceGuard keeps the traversal on the root's filesystem.
type DeviceGuard struct {
	rootDev uint64
	stats   *Stats
	probe   func(path string) (Metadata, error) // stat unless set
}

// selfProbe is appended to a directory path for its stat so the
// directory's own inode is examined even when the path is a symlink.
const selfProbe = "/."

// Check stats the directory currently held by buf and compares its device
// with the root's. The buffer is not modified. The returned metadata is
// that of the directory itself and is valid whenever err is nil.
func (g *DeviceGuard) Check(buf *PathBuffer) (Decision, Metadata, error) {
	g.stats.MetadataLookups++
	probe := g.probe
	if probe == nil {
		probe = stat
	}
	md, err := probe(buf.WithSuffix(selfProbe))
	if err != nil {
		return Skip, Metadata{}, err
	}
	if md.Dev != g.rootDev {
		return Skip, md, nil
	}
	return Proceed, md, nil
}

// RootDevice returns the device id the guard enforces.
func (g *DeviceGuard) RootDevice() uint64 { return g.rootDev }
