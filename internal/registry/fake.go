package registry

// FakeClient assigns sequential ids from one counter shared by all
// subjects, incrementing on every Register call (simulating schema
// evolution), for use in tests.
type FakeClient struct {
	next     int
	Subjects []string
}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Register(subject, _ string) (int, error) {
	f.next++
	f.Subjects = append(f.Subjects, subject)
	return f.next, nil
}

var _ Client = (*FakeClient)(nil)
