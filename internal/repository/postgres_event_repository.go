package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/pkg/database"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresEventRepository reads the event catalog from PostgreSQL
type PostgresEventRepository struct {
	db database.DBTX
}

// NewPostgresEventRepository creates a new PostgresEventRepository
func NewPostgresEventRepository(db database.DBTX) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

var _ EventRepository = (*PostgresEventRepository)(nil)

// GetByID retrieves an event by its ID
func (r *PostgresEventRepository) GetByID(ctx context.Context, eventID string) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	query := `
		SELECT id, name, status, max_concurrent_entries, sale_starts_at
		FROM events
		WHERE id = $1
	`

	e := &domain.Event{}
	var saleStartsAt *time.Time
	err := r.db.QueryRow(ctx, query, eventID).Scan(
		&e.ID,
		&e.Name,
		&e.Status,
		&e.MaxConcurrentEntries,
		&saleStartsAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "not found")
			return nil, domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if saleStartsAt != nil {
		e.SaleStartsAt = *saleStartsAt
	}

	span.SetStatus(codes.Ok, "")
	return e, nil
}
