package topology

import "time"

// Name suffixes of the resources derived from a main exchange
const (
	WaitSuffix     = ".waiting"
	UnroutedSuffix = ".unrouted"
	RepubSuffix    = ".repub"
	QueueSuffix    = ".q"
	ShovelSuffix   = ".shovel"
)

// RepublishInterval is how long an unroutable message waits before it is replayed
const RepublishInterval = 30 * time.Second

// Argument keys understood by RabbitMQ
const (
	ArgAlternateExchange  = "alternate-exchange"
	ArgDeadLetterExchange = "x-dead-letter-exchange"
	ArgMessageTTL         = "x-message-ttl"
)

// Names holds every resource name of the pipeline built around one exchange
type Names struct {
	Exchange         string
	WaitExchange     string
	WaitQueue        string
	UnroutedExchange string
	UnroutedQueue    string
	RepubExchange    string
	RepubQueue       string
	Shovel           string
}

// NamesFor derives the pipeline names for exchange
func NamesFor(exchange string) Names {
	wait := exchange + WaitSuffix
	unrouted := exchange + UnroutedSuffix
	repub := exchange + RepubSuffix

	return Names{
		Exchange:         exchange,
		WaitExchange:     wait,
		WaitQueue:        wait + QueueSuffix,
		UnroutedExchange: unrouted,
		UnroutedQueue:    unrouted + QueueSuffix,
		RepubExchange:    repub,
		RepubQueue:       repub + QueueSuffix,
		Shovel:           repub + ShovelSuffix,
	}
}

// WaitExchange returns the exchange a delayed retry must be published to
func WaitExchange(exchange string) string {
	return exchange + WaitSuffix
}
