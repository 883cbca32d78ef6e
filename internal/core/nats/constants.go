package nats

// Stream names
const (
	// StreamRestCalls holds call requests waiting for the relay.
	StreamRestCalls = "REST_CALLS"
	// StreamRestEvents holds call results and rate-limit events.
	StreamRestEvents = "REST_EVENTS"
)

// Subjects
const (
	// SubjectCalls carries CallRequest messages.
	SubjectCalls = "rest.calls"
	// SubjectResults prefixes the per-call result subject, see ResultSubject.
	SubjectResults = "rest.results"
	// SubjectRateLimit carries RateLimitEvent messages.
	SubjectRateLimit = "rest.ratelimit"
)

// Consumer names for JetStream pull consumers
const (
	// ConsumerRelayCalls is the durable consumer the relay pulls calls from.
	ConsumerRelayCalls = "relay-calls"
)

// ResultSubject is where the result of call id is published.
func ResultSubject(id string) string {
	return SubjectResults + "." + id
}
