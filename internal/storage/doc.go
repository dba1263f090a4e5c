// Package storage is the persistence layer: the delivery ledger (which
// (item, channel, category) triples have been dispatched), the email
// digest queue, and the subscriber list.
//
// The ledger is append-only and uniqueness-enforcing: inserting a triple
// that already exists is a benign no-op, so a racing duplicate send can
// never be recorded twice.
package storage
