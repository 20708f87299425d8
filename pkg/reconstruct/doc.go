/*
Package reconstruct builds a note's document state at any historical
timestamp from its stored snapshots and updates.

Reconstruction picks the deepest snapshot that is provably safe as a base
for the target time: for the right note, taken at or before the target,
with a vector clock fully backed by the caller's update universe and not
covering any update newer than the target. It then replays the remaining
updates up to the target. With no usable snapshot it replays from origin;
the result is the same document either way, just slower.

Keyframes and Preview sit on top for history scrubbing UI.
*/
package reconstruct
