// Package campaign manages campaigns and their one-shot fan-out.
//
// Start snapshots the campaign's contacts, records a pending delivery per
// contact, submits one dispatch task each and then flips the started flag.
// A per-campaign lock plus the compare-and-set on started keep a second
// start from fanning out again.
//
// Repository implementations live in repository/postgres/.
package campaign
