// Package protocol owns the monitor wire contract shared by producers and decoders.
//
// Ownership boundary:
// - opcode, extended header, and bus type identifiers
// - new-index and user-logging record layouts
// - frame/header primitives (subpackage frame)
// - extended header entries (subpackage exthdr)
//
// Values follow the BlueZ btmon monitor channel and must not be renumbered.
package protocol
