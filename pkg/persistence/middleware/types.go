// Package middleware wraps snapshot stores with extra behavior.
package middleware

import "github.com/aretw0/weft/pkg/ports"

// Middleware allows wrapping a SnapshotStore to add behavior.
type Middleware func(ports.SnapshotStore) ports.SnapshotStore
