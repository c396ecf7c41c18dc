package dsnet

// Handler reacts to a delivered envelope and returns the envelopes it wants
// sent in response. Returning nil means the event was handled locally.
type Handler interface {
	OnEvent(env *Envelope) []*Envelope
}

type HandlerFunc func(env *Envelope) []*Envelope

func (f HandlerFunc) OnEvent(env *Envelope) []*Envelope {
	return f(env)
}
