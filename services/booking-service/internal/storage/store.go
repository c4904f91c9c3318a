package storage

import (
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

// Store is the PostgreSQL implementation of booking.Store.
type Store struct {
	*BookingRepository
	*CatalogRepository
}

func NewStore(pool *db.Pool, outboxRepo *outbox.Repository) *Store {
	return &Store{
		BookingRepository: NewBookingRepository(pool, outboxRepo),
		CatalogRepository: NewCatalogRepository(pool),
	}
}

var _ booking.Store = (*Store)(nil)
