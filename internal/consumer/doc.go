// Package consumer reads task descriptors from the broker and hands them to a
// Processor one at a time.
//
// Prefetch is 1 and acknowledgement is manual: a delivery is Acked after the
// processor returns nil and Nacked without requeue otherwise, including
// messages that fail descriptor validation. Redelivery of failed tasks is not
// attempted; the task document carries the failure. When the broker session
// drops, Run reconnects after a fixed delay until its context ends.
//
// Cancelling Run's context lets the task in hand finish before Run returns.
// A delivery that arrives after cancellation is left unsettled so the broker
// hands it to the next consumer.
package consumer
