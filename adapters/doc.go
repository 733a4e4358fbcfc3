// Package adapters provides reusable pipeline handlers: LoggingHandler
// traces every event of a channel, Inbound and InboundFunc turn plain
// functions into handlers, and MetricsHandler counts traffic into a
// metrics sink.
package adapters
