package storage

import (
	"context"
	"database/sql"
	"sync"
)

// CleanupHandler deletes one collaborator's rows for an account inside the
// disconnect transaction.
type CleanupHandler func(ctx context.Context, tx *sql.Tx, accountID string) error

var (
	cleanupMu       sync.RWMutex
	cleanupHandlers = map[Platform][]CleanupHandler{}
)

// RegisterCleanupHandler adds a handler to the disconnect fan-out for a
// platform. The registry is populated once at startup and read-only
// afterwards; registering during request handling is a programming error.
func RegisterCleanupHandler(platform Platform, handler CleanupHandler) {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	cleanupHandlers[platform] = append(cleanupHandlers[platform], handler)
}

func cleanupHandlersFor(platform Platform) []CleanupHandler {
	cleanupMu.RLock()
	defer cleanupMu.RUnlock()
	return cleanupHandlers[platform]
}

// resetCleanupHandlers clears the registry. Test use only.
func resetCleanupHandlers() {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	cleanupHandlers = map[Platform][]CleanupHandler{}
}
