// Package index answers "which tools best satisfy this request" over
// the registry's denormalized tool catalogs.
//
// Discovery is a two-stage ranking to bound cost against a large
// catalog: services are shortlisted first by tag overlap and text
// similarity, then tools within the shortlist are ranked and the top N
// returned overall. Ties break deterministically (star rating, then
// path, then tool name).
//
// Only services and tools the caller is authorized to execute are
// eligible; unauthorized matches are silently excluded rather than
// surfaced as denials. Scoring never mutates anything. Refreshing a
// catalog from its backend is the separate, explicit Refresher
// operation.
package index
