/*
Package weft linearizes concurrently submitted interactions into per-domain total orders.

Participants submit interactions (a task of a process instance, bound to a sender and a
receiver). Interactions that share a participant, directly or transitively, form a conflict
domain; every participant of a domain is one of its orderers. Once the voting window opens,
each orderer proposes an order for the interactions it takes part in, and the ledger merges
the proposals into one order per domain, or reports a conflict.

# Concept

A ledger cycles through epochs:

	collecting -> voting -> resolving -> released -> collecting (next epoch)

Submissions are collected for a configurable number of blocks (Tick). Voting then opens on a
frozen snapshot of the pool; submissions received while voting join the next epoch. Domains
that need no agreement (a single orderer or a single interaction) can be released directly.
When every domain of the epoch has committed, the next epoch opens.

Proposals may be reordered by a bias policy first, so that long-running processes treat
instances fairly. External orderers can be designated to vote for the whole pool, overriding
the domain orderers, when a set of domains keeps conflicting.

# Key Features

  - Deterministic: the same submissions and votes, in the same order, produce the same domains and commits.
  - Hexagonal Architecture: the ordering core is decoupled from directories, stores and transports.
  - Durable Ledgers: with a store and a locker, several replicas can serve one ledger.
  - Notifications: callers subscribe to events or wait for a phase instead of polling.

# Usage

	dir := memory.NewDirectory(map[domain.TaskKey]domain.Participants{
		{InstanceID: 1, TaskName: "PurchaseOrder"}: {Sender: "retailer", Receiver: "manufacturer"},
	})

	eng, err := weft.New(weft.WithDirectory(dir))
	if err != nil {
		log.Fatal(err)
	}

	idx, _ := eng.Submit(ctx, "retailer", domain.TaskKey{InstanceID: 1, TaskName: "PurchaseOrder"})
	eng.TickN(ctx, 2)
	commits, _ := eng.ReleaseAll(ctx)

See the cmd/weft command for a server exposing a ledger over HTTP and MCP.
*/
package weft
