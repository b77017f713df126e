// Package alert notifies operators about checkouts that need a human:
// partial failures, refund-required sessions and captured payments that were
// abandoned. PostmarkNotifier emails them via github.com/mrz1836/postmark;
// LogNotifier logs them for local development.
package alert
