// Package models defines the core domain documents for the prayer bot.
//
// # Documents
//
// Two independently addressable documents exist:
//   - Group: one per community; owns the member roster and a pointer to the
//     active round
//   - Round: one per prayer cycle; owns the per-member entries
//
// A Round holds a back-reference (GroupID) to its Group, but a Group never
// embeds round contents, only CurrentRoundID. This keeps the large entry
// maps out of the frequently-read group document and keeps round-history
// queries cheap.
//
// # Design Principles
//
// 1. **Snapshot entries**: Round.Entries is a copy of the member keys taken
// at round creation; later roster changes do not retroactively add entries
// 2. **Forward-only status**: an entry moves from pending to one of the
// submitted states; re-submission overwrites but never returns to pending
// 3. **Avoid circular references**: documents reference each other by ID
// strings, never by pointer
//
// All structs carry bson tags so the mongo backend can store them directly;
// the sqlite backend persists the same shapes as JSON rows.
package models
