package practice

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	q  Querier
	sb squirrel.StatementBuilderType
}

func NewPgRepository(q Querier) *PgRepository {
	return &PgRepository{
		q:  q,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.DateOfBirth,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PractitionerID,
		&a.PatientID,
		&a.Date,
		&a.Time,
		&status,
		&a.Reason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Status, err = ParseAppointmentStatus(status)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanChamber(row pgx.Row) (*Chamber, error) {
	var c Chamber

	err := row.Scan(
		&c.ID,
		&c.PractitionerID,
		&c.Name,
		&c.Address,
		&c.Timing,
		&c.Days,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &c, nil
}

func (r *PgRepository) count(ctx context.Context, query squirrel.SelectBuilder) (int, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var n int64
	if err := r.q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Interface methods

func (r *PgRepository) CountAppointmentsOn(ctx context.Context, practitionerID uuid.UUID, day string) (int, error) {
	query := r.sb.Select("count(*)").
		From("appointments").
		Where("practitioner_id = ?", practitionerID).
		Where("appointment_date = ?::date", day)

	n, err := r.count(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) CountDistinctPatients(ctx context.Context, practitionerID uuid.UUID) (int, error) {
	query := r.sb.Select("count(DISTINCT patient_id)").
		From("appointments").
		Where("practitioner_id = ?", practitionerID)

	n, err := r.count(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count distinct patients: %w", err)
	}
	return n, nil
}

func (r *PgRepository) CountReviews(ctx context.Context, practitionerID uuid.UUID, status ReviewStatus) (int, error) {
	query := r.sb.Select("count(*)").
		From("doctor_reviews").
		Where("practitioner_id = ?", practitionerID).
		Where(squirrel.Eq{"status": string(status)})

	n, err := r.count(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}

// AverageRating delegates to the practitioner_average_rating SQL function,
// which only considers approved reviews. No reviews yields 0.
func (r *PgRepository) AverageRating(ctx context.Context, practitionerID uuid.UUID) (float64, error) {
	sql, args, err := r.sb.Select().
		Column(squirrel.Expr("COALESCE(practitioner_average_rating(?), 0)::float8", practitionerID)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var avg float64
	if err := r.q.QueryRow(ctx, sql, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average rating: %w", err)
	}
	return avg, nil
}

func (r *PgRepository) ListAppointmentsOn(ctx context.Context, practitionerID uuid.UUID, day string) ([]Appointment, error) {
	sql, args, err := r.sb.Select(
		"id",
		"practitioner_id",
		"patient_id",
		"to_char(appointment_date, 'YYYY-MM-DD')",
		"to_char(appointment_time, 'HH24:MI')",
		"status",
		"reason",
	).
		From("appointments").
		Where("practitioner_id = ?", practitionerID).
		Where("appointment_date = ?::date", day).
		OrderBy("appointment_time ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListPatientsByIDs(ctx context.Context, ids []uuid.UUID) ([]Patient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	sql, args, err := r.sb.Select("id", "name", "date_of_birth").
		From("patients").
		Where("id = ANY(?::uuid[])", raw).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListChambers(ctx context.Context, practitionerID uuid.UUID) ([]Chamber, error) {
	sql, args, err := r.sb.Select("id", "practitioner_id", "name", "address", "timing", "days", "created_at").
		From("doctor_chambers").
		Where("practitioner_id = ?", practitionerID).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list chambers: %w", err)
	}
	defer rows.Close()

	var result []Chamber
	for rows.Next() {
		c, err := scanChamber(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	sql, args, err := r.sb.Select("id", "name", "specialty").
		From("practitioners").
		Where("id = ?", id).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var p Practitioner
	err = r.q.QueryRow(ctx, sql, args...).Scan(&p.ID, &p.Name, &p.Specialty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get practitioner: %w", err)
	}
	return &p, nil
}
