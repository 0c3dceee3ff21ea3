package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	TypeTaskAssigned          = "task.assigned"
	TypeTaskStatusChanged     = "task.status_changed"
	TypeShipmentStatusChanged = "shipment.status_changed"
)

// Publisher delivers a message to an external feed.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Message is the JSON envelope published after a lifecycle change commits.
type Message struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	BranchID int64          `json:"branch_id"`
	Entity   string         `json:"entity"`
	EntityID int64          `json:"entity_id"`
	Status   string         `json:"status"`
	ActorID  int64          `json:"actor_id"`
	At       string         `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

func NewMessage(typ, entity string, entityID, branchID int64, status string, actorID int64, at time.Time) Message {
	return Message{
		ID:       uuid.NewString(),
		Type:     typ,
		BranchID: branchID,
		Entity:   entity,
		EntityID: entityID,
		Status:   status,
		ActorID:  actorID,
		At:       at.UTC().Format(time.RFC3339),
	}
}

// Key partitions messages per entity so one entity's events stay ordered.
func (m Message) Key() []byte {
	return []byte(m.Entity + ":" + strconv.FormatInt(m.EntityID, 10))
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
