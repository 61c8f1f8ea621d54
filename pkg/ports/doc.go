/*
Package ports defines the driven ports (interfaces) for the Weft ledger.

These interfaces decouple the ordering core from external implementations, allowing
the ledger to work with various participant sources, storage backends and lock services.

# Key Interfaces

  - TaskDirectory: Resolves the participants (sender, receiver) bound to a task.
  - SnapshotStore: Persists and loads the serialized ledger state.
  - DistributedLocker: Provides distributed locking when several replicas serve one ledger.
  - TaskRunner: Executes a task once its position is committed (the task-execution collaborator).
  - Sequencer: The operations adapters (HTTP, MCP, drivers) call on a ledger.
*/
package ports
