package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/pkg/database"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresTicketRepository implements TicketRepository using PostgreSQL
type PostgresTicketRepository struct {
	db database.DBTX
}

// NewPostgresTicketRepository creates a new PostgresTicketRepository
func NewPostgresTicketRepository(db database.DBTX) *PostgresTicketRepository {
	return &PostgresTicketRepository{db: db}
}

var _ TicketRepository = (*PostgresTicketRepository)(nil)

// Save inserts a committed ticket. A replayed commit finds the row already
// present and reports false.
func (r *PostgresTicketRepository) Save(ctx context.Context, t *domain.Ticket) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.save")
	defer span.End()

	span.SetAttributes(
		attribute.String("ticket_id", t.TicketID),
		attribute.String("event_id", t.EventID),
		attribute.String("user_id", t.UserID),
	)

	query := `
		INSERT INTO tickets (ticket_id, event_id, user_id, seat_ids, committed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticket_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, t.TicketID, t.EventID, t.UserID, t.SeatIDs, t.CommittedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to save ticket: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return tag.RowsAffected() == 1, nil
}

// GetByID retrieves a ticket by its ID
func (r *PostgresTicketRepository) GetByID(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("ticket_id", ticketID))

	query := `
		SELECT ticket_id, event_id, user_id, seat_ids, committed_at
		FROM tickets
		WHERE ticket_id = $1
	`

	t := &domain.Ticket{}
	err := r.db.QueryRow(ctx, query, ticketID).Scan(
		&t.TicketID,
		&t.EventID,
		&t.UserID,
		&t.SeatIDs,
		&t.CommittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "not found")
			return nil, domain.ErrTicketNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return t, nil
}
