package actor

// Producer creates a new instance of an Actor.
type Producer func() Actor

// Props configures how an actor is created.
type Props struct {
	producer Producer
}

// NewProps creates a Props object with the given actor producer.
func NewProps(producer Producer) *Props {
	if producer == nil {
		panic("actor: producer cannot be nil")
	}
	return &Props{producer: producer}
}

// Produce creates a new actor instance using the configured producer.
func (p *Props) Produce() Actor {
	return p.producer()
}
