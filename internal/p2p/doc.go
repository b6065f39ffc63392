// Package p2p models Wi-Fi Direct peer discovery and group formation.
//
// It turns supplicant control-interface event lines into Device and Group
// records, decodes the packed WPS and P2P capability bitmasks, merges repeated
// sightings of the same peer in a Registry and keeps a capacity-bounded,
// recency-ordered GroupStore of persistent groups.
//
// Nothing in this package performs I/O or takes locks. A Registry or
// GroupStore must be owned by one goroutine at a time, or guarded by the
// caller with its own mutex.
package p2p
