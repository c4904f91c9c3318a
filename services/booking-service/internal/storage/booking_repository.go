package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

// BookingRepository owns the appointments table. Every mutation writes its outbox event in
// the same transaction.
type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `id::text, business_id, client_name, client_phone, service_id, staff_id,
	date, start_at, end_at, busy_until, status, cancelled_at, created_at`

// prefixed qualifies every column of a select list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.ClientName,
		&appt.ClientPhone,
		&appt.ServiceID,
		&appt.StaffID,
		&appt.Date,
		&appt.StartAt,
		&appt.EndAt,
		&appt.BusyUntil,
		&status,
		&appt.CancelledAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.AppointmentStatus(status)
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// dayLockKey serialises every commit touching one tenant's calendar day.
func dayLockKey(businessID string, date time.Time) string {
	return businessID + "|" + clock.FormatDate(date)
}

func lockDay(ctx context.Context, tx pgx.Tx, businessID string, date time.Time) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dayLockKey(businessID, date))
	return err
}

// ensureFree re-validates the busy span inside the locked transaction. Appointments pinned to
// different staff members never collide; unpinned and generic ones collide with everyone.
func ensureFree(ctx context.Context, tx pgx.Tx, appt model.Appointment, excludeID string) error {
	if err := ensureScheduled(ctx, tx, appt); err != nil {
		return err
	}
	var taken bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE business_id = $1
				AND date = $2
				AND status = 'confirmed'
				AND ($3 = '' OR id::text <> $3)
				AND NOT (staff_id NOT IN ('', 'generic') AND $4 NOT IN ('', 'generic') AND staff_id <> $4)
				AND start_at < $6
				AND busy_until > $5
		) OR EXISTS (
			SELECT 1 FROM blocked_intervals
			WHERE business_id = $1
				AND date = $2
				AND (date + start_time::time) < $6
				AND (date + end_time::time) > $5
		)
	`, appt.BusinessID, appt.Date, excludeID, appt.StaffID, appt.StartAt, appt.BusyUntil).Scan(&taken)
	if err != nil {
		return err
	}
	if taken {
		return booking.ErrSlotTaken
	}
	return nil
}

// ensureScheduled re-reads the weekday's hours under FOR SHARE so a concurrent
// PutWeekSchedule waits for this commit instead of racing it.
func ensureScheduled(ctx context.Context, tx pgx.Tx, appt model.Appointment) error {
	var d model.DaySchedule
	err := tx.QueryRow(ctx, `
		SELECT is_open, start_time, end_time, break_start, break_end
		FROM week_schedules
		WHERE business_id = $1 AND weekday = $2
		FOR SHARE
	`, appt.BusinessID, int16(appt.Date.Weekday())).Scan(&d.Open, &d.Start, &d.End, &d.BreakStart, &d.BreakEnd)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if !withinSchedule(d, appt) {
		return booking.ErrSlotTaken
	}
	return nil
}

func (r *BookingRepository) CommitAppointment(ctx context.Context, req booking.CommitRequest) (booking.Committed, error) {
	appt := req.Appointment
	var out booking.Committed
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockDay(ctx, tx, appt.BusinessID, appt.Date); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			prior, err := scanAppointment(tx.QueryRow(ctx, `
				SELECT `+prefixed("a", appointmentColumns)+`
				FROM booking_idempotency_keys k
				JOIN appointments a ON a.id = k.appointment_id
				WHERE k.business_id = $1 AND k.idempotency_key = $2
			`, appt.BusinessID, req.IdempotencyKey))
			if err == nil {
				out = booking.Committed{Appointment: prior, Replayed: true}
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		if err := ensureFree(ctx, tx, appt, ""); err != nil {
			return err
		}

		created, err := scanAppointment(tx.QueryRow(ctx, `
			INSERT INTO appointments
				(business_id, client_name, client_phone, service_id, staff_id, date, start_at, end_at, busy_until, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'confirmed')
			RETURNING `+appointmentColumns,
			appt.BusinessID, appt.ClientName, appt.ClientPhone, appt.ServiceID, appt.StaffID,
			appt.Date, appt.StartAt, appt.EndAt, appt.BusyUntil))
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO booking_idempotency_keys (business_id, idempotency_key, appointment_id)
				VALUES ($1, $2, $3)
			`, appt.BusinessID, req.IdempotencyKey, created.ID); err != nil {
				return err
			}
		}
		if err := r.emit(ctx, tx, outbox.EventAppointmentBooked, created); err != nil {
			return err
		}
		out = booking.Committed{Appointment: created}
		return nil
	})
	if err != nil {
		return booking.Committed{}, translate(err)
	}
	return out, nil
}

func (r *BookingRepository) UpdateAppointmentTime(ctx context.Context, businessID, appointmentID string, slot booking.Slot) (model.Appointment, error) {
	var out model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockDay(ctx, tx, businessID, slot.Date); err != nil {
			return err
		}
		current, err := r.getForUpdate(ctx, tx, businessID, appointmentID)
		if err != nil {
			return err
		}
		if current.Status != model.StatusConfirmed {
			return booking.ErrNotActive
		}
		moved := current
		moved.StaffID, moved.Date, moved.StartAt, moved.EndAt, moved.BusyUntil = slot.StaffID, slot.Date, slot.StartAt, slot.EndAt, slot.BusyUntil
		if err := ensureFree(ctx, tx, moved, current.ID); err != nil {
			return err
		}
		updated, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET staff_id = $3, date = $4, start_at = $5, end_at = $6, busy_until = $7
			WHERE id = $1 AND business_id = $2
			RETURNING `+appointmentColumns,
			current.ID, businessID, moved.StaffID, moved.Date, moved.StartAt, moved.EndAt, moved.BusyUntil))
		if err != nil {
			return err
		}
		if err := r.emit(ctx, tx, outbox.EventAppointmentRescheduled, updated); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	return out, nil
}

func (r *BookingRepository) SetAppointmentStatus(ctx context.Context, change booking.StatusChange) (model.Appointment, error) {
	if change.Status != model.StatusCancelled && change.Status != model.StatusCompleted {
		return model.Appointment{}, fmt.Errorf("unsupported status transition to %q", change.Status)
	}
	var out model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		current, err := r.getForUpdate(ctx, tx, change.BusinessID, change.AppointmentID)
		if err != nil {
			return err
		}
		if current.Status != model.StatusConfirmed {
			return booking.ErrNotActive
		}
		updated, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $3,
				cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4::timestamptz ELSE cancelled_at END,
				completed_at = CASE WHEN $3 = 'completed' THEN $4::timestamptz ELSE completed_at END
			WHERE id = $1 AND business_id = $2
			RETURNING `+appointmentColumns,
			current.ID, change.BusinessID, string(change.Status), change.At))
		if err != nil {
			return err
		}
		eventType := outbox.EventAppointmentCompleted
		if change.Status == model.StatusCancelled {
			eventType = outbox.EventAppointmentCancelled
			if change.ClientInitiated {
				if _, err := tx.Exec(ctx, `
					INSERT INTO appointment_cancellations (business_id, appointment_id, client_phone, cancelled_at)
					VALUES ($1, $2, $3, $4)
				`, change.BusinessID, current.ID, current.ClientPhone, change.At); err != nil {
					return err
				}
			}
		}
		if err := r.emit(ctx, tx, eventType, updated); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return model.Appointment{}, translate(err)
	}
	return out, nil
}

// CompleteDue marks up to limit confirmed appointments whose end has passed in their tenant's
// timezone as completed and returns them.
func (r *BookingRepository) CompleteDue(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.Appointment
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			WITH due AS (
				SELECT a.id
				FROM appointments a
				LEFT JOIN business_profiles p ON p.business_id = a.business_id
				WHERE a.status = 'confirmed'
					AND a.end_at <= (now() AT TIME ZONE COALESCE(NULLIF(p.timezone, ''), 'UTC'))
				ORDER BY a.end_at
				LIMIT $1
				FOR UPDATE OF a SKIP LOCKED
			)
			UPDATE appointments
			SET status = 'completed', completed_at = now()
			FROM due
			WHERE appointments.id = due.id
			RETURNING `+prefixed("appointments", appointmentColumns), limit)
		if err != nil {
			return err
		}
		completed, err := collectAppointments(rows)
		if err != nil {
			return err
		}
		for _, appt := range completed {
			if err := r.emit(ctx, tx, outbox.EventAppointmentCompleted, appt); err != nil {
				return err
			}
		}
		out = completed
		return nil
	})
	return out, err
}

func (r *BookingRepository) ListAppointments(ctx context.Context, businessID string, date time.Time, status model.AppointmentStatus) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND date = $2
			AND ($3 = '' OR status = $3)
		ORDER BY start_at ASC, created_at ASC
	`, businessID, date, string(status))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *BookingRepository) GetAppointment(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1 AND business_id = $2
	`, appointmentID, businessID))
	return appt, translate(err)
}

func (r *BookingRepository) FindActiveAppointment(ctx context.Context, businessID, phone string, now time.Time) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND client_phone = $2
			AND status = 'confirmed'
			AND end_at > $3
		ORDER BY start_at ASC
		LIMIT 1
	`, businessID, phone, now))
	return appt, translate(err)
}

func (r *BookingRepository) FindByIdempotencyKey(ctx context.Context, businessID, key string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+prefixed("a", appointmentColumns)+`
		FROM booking_idempotency_keys k
		JOIN appointments a ON a.id = k.appointment_id
		WHERE k.business_id = $1 AND k.idempotency_key = $2
	`, businessID, key))
	return appt, translate(err)
}

func (r *BookingRepository) ListCancellations(ctx context.Context, businessID, phone string, since time.Time) ([]model.Cancellation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_id::text, client_phone, cancelled_at
		FROM appointment_cancellations
		WHERE business_id = $1 AND client_phone = $2 AND cancelled_at >= $3
		ORDER BY cancelled_at ASC
	`, businessID, phone, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Cancellation
	for rows.Next() {
		var c model.Cancellation
		if err := rows.Scan(&c.AppointmentID, &c.ClientPhone, &c.CancelledAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BookingRepository) getForUpdate(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1 AND business_id = $2
		FOR UPDATE
	`, appointmentID, businessID))
}

func (r *BookingRepository) emit(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	evt, err := outbox.AppointmentEvent(eventType, appt)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, evt)
}
