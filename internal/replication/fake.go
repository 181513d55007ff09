package replication

// FakeStream is an in-memory Stream used by tests; it has no network
// connection and never fails unless KeepaliveErr is set.
type FakeStream struct {
	fsyncLSN      uint64
	takingSnap    bool
	Slot          string
	KeepaliveErr  error
	KeepaliveLog  []uint64
	DropSlotCalls int
}

// NewFakeStream returns a stream with the snapshot in progress, matching a
// freshly created replication slot.
func NewFakeStream(slot string) *FakeStream {
	return &FakeStream{Slot: slot, takingSnap: true}
}

func (f *FakeStream) FsyncLSN() uint64 { return f.fsyncLSN }

func (f *FakeStream) SetFsyncLSN(lsn uint64) {
	if lsn > f.fsyncLSN {
		f.fsyncLSN = lsn
	}
}

func (f *FakeStream) TakingSnapshot() bool    { return f.takingSnap }
func (f *FakeStream) ClearTakingSnapshot()    { f.takingSnap = false }
func (f *FakeStream) SlotName() string        { return f.Slot }

func (f *FakeStream) SendKeepalive() error {
	f.KeepaliveLog = append(f.KeepaliveLog, f.fsyncLSN)
	return f.KeepaliveErr
}

func (f *FakeStream) Poll(_ int) (bool, error) { return false, nil }

func (f *FakeStream) DropSlot() error {
	f.DropSlotCalls++
	return nil
}

var _ Stream = (*FakeStream)(nil)
