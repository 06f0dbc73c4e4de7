package repo

import (
	"context"

	"github.com/hamed0406/waitprobe/internal/domain"
)

// RunStore keeps finished probe runs.
type RunStore interface {
	Append(ctx context.Context, r *domain.Run) error
	// Latest returns the newest run of every probe, ordered by probe name.
	Latest(ctx context.Context) ([]domain.Run, error)
	// List returns the runs of one probe, newest first, at most limit (0 = all).
	List(ctx context.Context, probe string, limit int) ([]domain.Run, error)
}

// AlertStore keeps per-probe alert state.
type AlertStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, probe string) (*domain.AlertRecord, error)
	// Set upserts the record.
	Set(ctx context.Context, rec domain.AlertRecord) error
}
