package domain

// MessageBus fans inbound Signal messages out to in-process consumers.
type MessageBus interface {
	Publish(msg Message)
	Subscribe() <-chan Message
	Close()
}
