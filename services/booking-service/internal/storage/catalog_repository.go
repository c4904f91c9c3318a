package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// CatalogRepository holds the owner-managed data the booking flow only reads: profile,
// services, staff, week schedule, blocked intervals and phones, and the waiting list.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetProfile(ctx context.Context, businessID string) (model.BusinessProfile, error) {
	var p model.BusinessProfile
	err := r.pool.QueryRow(ctx, `
		SELECT business_id, name, timezone, buffer_minutes, whatsapp_phone
		FROM business_profiles
		WHERE business_id = $1
	`, businessID).Scan(&p.BusinessID, &p.Name, &p.Timezone, &p.BufferMinutes, &p.WhatsAppPhone)
	return p, translate(err)
}

func (r *CatalogRepository) UpsertProfile(ctx context.Context, p model.BusinessProfile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_profiles (business_id, name, timezone, buffer_minutes, whatsapp_phone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (business_id) DO UPDATE
		SET name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			buffer_minutes = EXCLUDED.buffer_minutes,
			whatsapp_phone = EXCLUDED.whatsapp_phone,
			updated_at = now()
	`, p.BusinessID, p.Name, p.Timezone, p.BufferMinutes, p.WhatsAppPhone)
	return err
}

func (r *CatalogRepository) CreateService(ctx context.Context, svc model.Service) (model.Service, error) {
	svc.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services (id, business_id, name, price, duration_minutes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, svc.ID, svc.BusinessID, svc.Name, svc.Price, svc.DurationMinutes).Scan(&svc.CreatedAt)
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

func (r *CatalogRepository) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, business_id, name, price, duration_minutes, created_at
		FROM services
		WHERE business_id = $1 AND id = $2
	`, businessID, serviceID).Scan(&s.ID, &s.BusinessID, &s.Name, &s.Price, &s.DurationMinutes, &s.CreatedAt)
	return s, translate(err)
}

func (r *CatalogRepository) ListServices(ctx context.Context, businessID string) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, name, price, duration_minutes, created_at
		FROM services
		WHERE business_id = $1
		ORDER BY name ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.Price, &s.DurationMinutes, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *CatalogRepository) CreateStaff(ctx context.Context, s model.Staff) (model.Staff, error) {
	s.ID = uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff (id, business_id, name, phone, avatar_url, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.BusinessID, s.Name, s.Phone, s.AvatarURL, s.IsActive)
	if err != nil {
		return model.Staff{}, err
	}
	return s, nil
}

// ListStaff returns staff in creation order, which is the order "any staff" assignment
// tries them in.
func (r *CatalogRepository) ListStaff(ctx context.Context, businessID string, activeOnly bool) ([]model.Staff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, name, phone, avatar_url, is_active
		FROM staff
		WHERE business_id = $1 AND (NOT $2 OR is_active)
		ORDER BY created_at ASC, id ASC
	`, businessID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var s model.Staff
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.Phone, &s.AvatarURL, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *CatalogRepository) ListActiveStaff(ctx context.Context, businessID string) ([]model.Staff, error) {
	return r.ListStaff(ctx, businessID, true)
}

func (r *CatalogRepository) GetWeekSchedule(ctx context.Context, businessID string) (model.WeekSchedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, is_open, start_time, end_time, break_start, break_end
		FROM week_schedules
		WHERE business_id = $1
		ORDER BY weekday ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	week := model.WeekSchedule{}
	for rows.Next() {
		var wd int16
		var d model.DaySchedule
		if err := rows.Scan(&wd, &d.Open, &d.Start, &d.End, &d.BreakStart, &d.BreakEnd); err != nil {
			return nil, err
		}
		week[model.WeekdayName(time.Weekday(wd))] = d
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return week, nil
}

// PutWeekSchedule replaces the whole week; weekdays missing from week become closed.
func (r *CatalogRepository) PutWeekSchedule(ctx context.Context, businessID string, week model.WeekSchedule) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM week_schedules WHERE business_id = $1`, businessID); err != nil {
			return err
		}
		for name, d := range week {
			wd, err := model.ParseWeekday(name)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO week_schedules (business_id, weekday, is_open, start_time, end_time, break_start, break_end)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, businessID, int16(wd), d.Open, d.Start, d.End, d.BreakStart, d.BreakEnd); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *CatalogRepository) GetDaySchedule(ctx context.Context, businessID string, date time.Time) (model.DaySchedule, error) {
	var d model.DaySchedule
	err := r.pool.QueryRow(ctx, `
		SELECT is_open, start_time, end_time, break_start, break_end
		FROM week_schedules
		WHERE business_id = $1 AND weekday = $2
	`, businessID, int16(date.Weekday())).Scan(&d.Open, &d.Start, &d.End, &d.BreakStart, &d.BreakEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DaySchedule{}, nil
	}
	return d, err
}

func (r *CatalogRepository) CreateBlockedInterval(ctx context.Context, b model.BlockedInterval) (model.BlockedInterval, error) {
	b.ID = uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blocked_intervals (id, business_id, date, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.BusinessID, b.Date, b.StartTime, b.EndTime, b.Reason)
	if err != nil {
		return model.BlockedInterval{}, err
	}
	return b, nil
}

func (r *CatalogRepository) ListBlockedIntervals(ctx context.Context, businessID string, date time.Time) ([]model.BlockedInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, date, start_time, end_time, reason
		FROM blocked_intervals
		WHERE business_id = $1 AND date = $2
		ORDER BY start_time ASC
	`, businessID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlockedInterval
	for rows.Next() {
		var b model.BlockedInterval
		if err := rows.Scan(&b.ID, &b.BusinessID, &b.Date, &b.StartTime, &b.EndTime, &b.Reason); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *CatalogRepository) DeleteBlockedInterval(ctx context.Context, businessID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM blocked_intervals
		WHERE business_id = $1 AND id = $2
	`, businessID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *CatalogRepository) AddBlockedPhone(ctx context.Context, businessID, phone string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blocked_phones (business_id, phone)
		VALUES ($1, $2)
		ON CONFLICT (business_id, phone) DO NOTHING
	`, businessID, phone)
	return err
}

func (r *CatalogRepository) RemoveBlockedPhone(ctx context.Context, businessID, phone string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM blocked_phones
		WHERE business_id = $1 AND phone = $2
	`, businessID, phone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *CatalogRepository) ListBlockedPhones(ctx context.Context, businessID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT phone
		FROM blocked_phones
		WHERE business_id = $1
		ORDER BY phone ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *CatalogRepository) AddWaitingListEntry(ctx context.Context, e model.WaitingListEntry) (model.WaitingListEntry, error) {
	e.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO waiting_list (id, business_id, client_name, client_phone, date, service_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.BusinessID, e.ClientName, e.ClientPhone, e.Date, e.ServiceID).Scan(&e.CreatedAt)
	if err != nil {
		return model.WaitingListEntry{}, err
	}
	return e, nil
}

// ListWaitingList returns entries oldest first; a zero date lists every date.
func (r *CatalogRepository) ListWaitingList(ctx context.Context, businessID string, date time.Time) ([]model.WaitingListEntry, error) {
	var day *time.Time
	if !date.IsZero() {
		day = &date
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, business_id, client_name, client_phone, date, service_id, created_at
		FROM waiting_list
		WHERE business_id = $1 AND ($2::date IS NULL OR date = $2::date)
		ORDER BY created_at ASC
	`, businessID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WaitingListEntry
	for rows.Next() {
		var e model.WaitingListEntry
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.ClientName, &e.ClientPhone, &e.Date, &e.ServiceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
