// Package agent drives one chat session against the assistant backend. It
// owns the message log and the pending-action slot, routes assistant replies
// through intake, and runs confirmed actions through a one-shot executor.
package agent
