package cache

type EventType int

const (
	EventSet EventType = iota
	EventRemove
	EventClear
)

func (t EventType) String() string {
	switch t {
	case EventSet:
		return "set"
	case EventRemove:
		return "remove"
	case EventClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Event describes a single mutation. Remove events carry no data and Clear
// events carry neither key nor data. Evicted marks removals done to stay within
// capacity.
type Event struct {
	Type    EventType `msgpack:"type"`
	Key     string    `msgpack:"key,omitempty"`
	Data    string    `msgpack:"data,omitempty"`
	Evicted bool      `msgpack:"evicted,omitempty"`
}

// Subscriber is called synchronously for every Event, after the mutation has
// completed and the cache lock has been released.
type Subscriber func(Event)

// Subscription removes the subscriber it was returned for. Calling it more than
// once is a no-op.
type Subscription func()
