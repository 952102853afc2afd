package broker

// Subscription pairs a topic with a subscriber callback.
type Subscription struct {
	topic Topic
	fn    func(event any)
}

func (s *Subscription) deliver(event any) {
	s.fn(event)
}
