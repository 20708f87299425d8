/*
Package events provides a buffered publish/subscribe broker for engine
events: updates persisted or received, packs and snapshots created, GC
runs, and note/folder change notifications.

Update events carry an Origin tag. The store persists only local-origin
update bytes; remote-origin events exist so UI layers can refresh without
writing anything back to the SD.

Slow subscribers lose events rather than stalling the distribution loop;
consumers that need a complete record re-scan the filesystem, which is
always authoritative.
*/
package events
