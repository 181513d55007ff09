package kafkadriver

// FakeDriver is an in-memory Driver used by tests. Produce appends to
// Produced immediately; delivery reports are queued and only delivered to
// the registered callback when Poll is called, mirroring the real driver's
// asynchronous-but-only-via-poll contract.
type FakeDriver struct {
	onDR     DeliveryCallback
	Produced []FakeMessage
	pending  []DeliveryReport

	// QueueCapacity, if nonzero, makes Produce return ErrQueueFull once
	// len(Produced)-delivered reaches it, to exercise backpressure.
	QueueCapacity int
	delivered     int

	Closed bool
}

// FakeMessage records one Produce call for test assertions.
type FakeMessage struct {
	Topic    string
	Key      []byte
	Value    []byte
	Envelope interface{}
}

// NewFakeDriver returns a FakeDriver that calls onDR for delivery reports.
func NewFakeDriver(onDR DeliveryCallback) *FakeDriver {
	return &FakeDriver{onDR: onDR}
}

func (f *FakeDriver) Topic(name string, _ map[string]string) (Topic, error) {
	return confluentTopic{name: name}, nil
}

func (f *FakeDriver) Produce(topic Topic, key, value []byte, envelope interface{}) error {
	if f.QueueCapacity > 0 && len(f.Produced)-f.delivered >= f.QueueCapacity {
		return ErrQueueFull
	}
	f.Produced = append(f.Produced, FakeMessage{Topic: topic.Name(), Key: key, Value: value, Envelope: envelope})
	f.pending = append(f.pending, DeliveryReport{Envelope: envelope, Topic: topic.Name()})
	return nil
}

// DeliverNext immediately delivers the oldest pending report, bypassing
// Poll; tests use this to control exactly which message acks when.
func (f *FakeDriver) DeliverNext(err error) bool {
	if len(f.pending) == 0 {
		return false
	}
	rep := f.pending[0]
	f.pending = f.pending[1:]
	rep.Err = err
	f.delivered++
	f.onDR(rep)
	return true
}

// Poll delivers every currently pending report and returns how many.
func (f *FakeDriver) Poll(_ int) int {
	var n int
	for f.DeliverNext(nil) {
		n++
	}
	return n
}

func (f *FakeDriver) Flush(_ int) int {
	f.Poll(0)
	return len(f.pending)
}

func (f *FakeDriver) Close() { f.Closed = true }

var _ Driver = (*FakeDriver)(nil)
