// Package store is the SQLite journal behind the transaction queue and the
// local account.
//
// Tables:
//   - transactions: one row per queue record, upserted from queue snapshots
//   - keystore: a single row holding the serialized local account
//
// A record's status in the journal never moves backwards. A snapshot taken
// before a later one can be written out of order without undoing progress.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5 seconds for locks
//   - Single connection: one writer at a time
package store
