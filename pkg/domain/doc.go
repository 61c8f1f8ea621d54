/*
Package domain contains the core domain model of the Weft ordering protocol.

It defines the entities that the ledger partitions, votes on and commits, and is kept
free of I/O and persistence concerns, following Hexagonal Architecture principles.

# Key Entities

  - Interaction: A unit of work submitted by a participant, identified by (InstanceID, TaskName).
  - DomainSnapshot: A read-only view of a conflict domain (orderers, votes, pending and committed order).
  - OrdererEntry: An address entitled to vote, either for one domain or as an external override.
  - Epoch: One submit -> vote -> resolve cycle, with its block counter and readiness flags.
  - Snapshot: The full serializable ledger state used by stores and replicas.
*/
package domain
