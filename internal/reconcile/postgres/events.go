package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/schoolcore/fees-management/internal/core/datamodel/gatewayevent"
	"github.com/schoolcore/fees-management/internal/reconcile"
)

// Retention for processed webhook event ids. Long enough to outlive any
// realistic gateway redelivery window.
const eventTTL = 30 * 24 * time.Hour

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) reconcile.EventStore {
	return &EventRepository{
		db: db,
	}
}

func (r *EventRepository) Seen(eventID string) (bool, error) {
	var count int64
	err := r.db.Model(&gatewayevent.GatewayEvent{}).
		Where("event_id = ? AND expires_at > ?", eventID, time.Now().UTC()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *EventRepository) Record(eventID, eventType, orderRef string) error {
	now := time.Now().UTC()

	// Opportunistic sweep of expired rows keeps the table bounded without a
	// dedicated cleanup job.
	r.db.Where("expires_at <= ?", now).Delete(&gatewayevent.GatewayEvent{})

	return r.db.Create(&gatewayevent.GatewayEvent{
		EventID:    eventID,
		EventType:  eventType,
		OrderRef:   orderRef,
		ReceivedAt: now,
		ExpiresAt:  now.Add(eventTTL),
	}).Error
}
