package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards every T to ch without blocking the
// dispatcher; events are dropped while ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	if bus == nil {
		return func() {}
	}
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeAll forwards every lifecycle event to ch and returns one
// function that removes all the subscriptions.
func SubscribeAll(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[SessionOpenedEvent](bus, ch),
		SubscribeToChannel[FormatNegotiatedEvent](bus, ch),
		SubscribeToChannel[StreamingStartedEvent](bus, ch),
		SubscribeToChannel[StreamingStoppedEvent](bus, ch),
		SubscribeToChannel[CaptureFaultEvent](bus, ch),
		SubscribeToChannel[SessionClosedEvent](bus, ch),
		SubscribeToChannel[ControlChangedEvent](bus, ch),
		SubscribeToChannel[FrameRateChangedEvent](bus, ch),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
