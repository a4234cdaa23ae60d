package provider

var _ Adapter = (*Mock)(nil)

// Mock drives cmd/mock-agent, which speaks the same JSON line protocol as
// the gemini CLI but with scripted content.
type Mock struct {
	Gemini
}

func NewMock() *Mock { return &Mock{} }

func (*Mock) Name() string { return "mock" }
