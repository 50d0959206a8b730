package bunstore

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/id"
)

type messageModel struct {
	bun.BaseModel `bun:"table:outbox_messages"`

	ID          string    `bun:"id,pk"`
	OrgID       string    `bun:"org_id,notnull"`
	Type        string    `bun:"type,notnull"`
	Payload     []byte    `bun:"payload,notnull,type:jsonb"`
	Status      string    `bun:"status,notnull,default:'pending'"`
	RetryCount  int       `bun:"retry_count,notnull,default:0"`
	LastError   string    `bun:"last_error"`
	AvailableAt time.Time `bun:"available_at,notnull,default:current_timestamp"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toMessageModel(msg *outbox.Message) *messageModel {
	return &messageModel{
		ID:          msg.ID.String(),
		OrgID:       msg.OrgID,
		Type:        msg.Type,
		Payload:     msg.Payload,
		Status:      string(msg.Status),
		RetryCount:  msg.RetryCount,
		LastError:   msg.LastError,
		AvailableAt: msg.AvailableAt,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}

func fromMessageModel(m *messageModel) (*outbox.Message, error) {
	msgID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, err
	}

	return &outbox.Message{
		ID:          msgID,
		OrgID:       m.OrgID,
		Type:        m.Type,
		Payload:     json.RawMessage(m.Payload),
		Status:      outbox.Status(m.Status),
		RetryCount:  m.RetryCount,
		LastError:   m.LastError,
		AvailableAt: m.AvailableAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}
