/*
Package profile manages the profile-local database and the profile's
footprint inside each storage directory.

The database (BoltDB, one file per profile) holds the immutable instance
and profile ids generated on first open, stored settings blobs, and per-SD
polling counters. Presence records (who is syncing into an SD, from which
host and app version) are plain JSON files under the SD's profiles
directory, refreshed periodically and reported (never deleted) when stale.

The SD-TYPE marker distinguishes development from production directories;
CheckSDType keeps a profile from accidentally mixing the two.
*/
package profile
