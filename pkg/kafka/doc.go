// Package kafka publishes JSON events through a github.com/IBM/sarama
// synchronous producer. The checkout recorder uses it to emit one event per
// terminal session state, keyed by intent id.
package kafka
