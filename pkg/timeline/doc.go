/*
Package timeline groups a document's update history into activity sessions
for history UI: maximal runs of updates with no idle gap over the threshold
(default five minutes) and no more than the size cap (default 100).

Sessions can be built from append-only logs (BuildTimeline) or from the
update/pack layout (BuildTimelineFromStore); the grouping itself is the
pure GroupSessions function.
*/
package timeline
