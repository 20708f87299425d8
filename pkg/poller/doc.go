/*
Package poller decides which notes to re-scan from disk, under a global
rate budget with hit acceleration and a priority reservation.

Entries enter the queue with a reason (open note, listed note, fast-path
handoff, recent edit, full repoll) and leave when their per-reason exit
criterion is met. GetNextBatch hands out batches: high-priority entries
(notes open or listed in some window) go first, but a fixed share of every
batch is reserved for the normal FIFO so background notes cannot starve.

The budget is a leaky bucket: pollRatePerMinute/60 tokens per second,
accelerated by recent hits (each hit in the last second adds
hitRateMultiplier to the factor) and capped at maxBurstPerSecond.

Fast-path handoffs track expected per-instance sequences; once every
expected instance has been observed at or past its expectation, the entry
retires. A handoff that stays behind longer than fastPathMaxDelayMs is
escalated to a full repoll instead of polling forever.
*/
package poller
