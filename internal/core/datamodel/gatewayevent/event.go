package gatewayevent

import "time"

// GatewayEvent records a webhook delivery that has already been processed.
// It is a durable replay short-circuit: the reconciliation engine's
// conditional status update is what actually guarantees exactly-once
// completion. Rows expire and are swept opportunistically.
type GatewayEvent struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	EventID    string    `json:"event_id" gorm:"column:event_id;not null;uniqueIndex"`
	EventType  string    `json:"event_type" gorm:"column:event_type"`
	OrderRef   string    `json:"order_ref" gorm:"column:order_ref"`
	ReceivedAt time.Time `json:"received_at" gorm:"column:received_at"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"column:expires_at;index"`
}

func (GatewayEvent) TableName() string {
	return "gateway_events"
}
