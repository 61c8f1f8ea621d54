/*
Package ledger implements ledger access coordination and persistence orchestration.

A Manager serializes operations on a ledger ID inside one process with a reference-counted
mutex, and across replicas with an optional ports.DistributedLocker. Snapshots are loaded
from and saved to a ports.SnapshotStore while the lock is held.
*/
package ledger
