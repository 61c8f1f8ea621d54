/*
Package driver plays the orderer side of a ledger: it proposes orders for every domain,
re-votes with fresh proposals when a domain conflicts, and escalates when it keeps conflicting.

Escalation is bounded. After MaxConflictRetries reshuffles a Coordinator designates its
fallback orderers as external orderers for the current epoch, votes the whole pool in
ascending index order on their behalf, and revokes the designation once the epoch resolved.
Without fallback orderers it gives up with domain.ErrPermanentConflict.

A Coordinator can also execute committed tasks through a ports.TaskRunner and report their
completion, closing the loop the bias policy depends on.
*/
package driver
