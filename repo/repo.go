package repo

import (
	"context"

	"github.com/lechuhuuha/event_relay/internal/domain"
)

// ArchiveRepository persists rejected events and reports whether its backing store is reachable.
type ArchiveRepository interface {
	domain.Archiver
	CheckReady(ctx context.Context) error
}
