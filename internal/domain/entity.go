package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entity is an owner-scoped identifier with an unordered bag of components.
// The set of component types attached defines what the entity "is"; there is
// no entity-level schema.
type Entity struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Components []Component `gorm:"foreignKey:EntityID;references:ID" json:"components,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Entity) TableName() string { return "entities" }

// Component returns the first component of the given type, or nil.
func (e *Entity) Component(componentType string) *Component {
	for i := range e.Components {
		if e.Components[i].ComponentType == componentType {
			return &e.Components[i]
		}
	}
	return nil
}

// Component is a typed data fragment attached to an entity. ChunkID and
// DocumentID are denormalized from Data for indexed filtering; they must
// always mirror the corresponding fields inside Data, which is why every
// write goes through SetData.
type Component struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EntityID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"entity_id"`
	ComponentType string         `gorm:"column:component_type;not null;index" json:"component_type"`
	Data          datatypes.JSON `gorm:"type:jsonb;column:data;not null" json:"data"`
	ChunkID       *string        `gorm:"column:chunk_id;index" json:"chunk_id,omitempty"`
	DocumentID    *uuid.UUID     `gorm:"type:uuid;column:document_id;index" json:"document_id,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Component) TableName() string { return "components" }

// SetData is the single write path for component payloads. It validates the
// payload, replaces Data wholesale and refreshes the denormalized
// chunk_id/document_id columns so they can never drift from Data.
func (c *Component) SetData(data ComponentData) error {
	if data == nil {
		return fmt.Errorf("component data required")
	}
	if err := data.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s component: %w", data.Type(), err)
	}
	c.ComponentType = data.Type()
	c.Data = datatypes.JSON(raw)
	c.ChunkID, c.DocumentID = denormKeys(data)
	return nil
}

// Decoded unmarshals Data into the typed payload for the component's type.
func (c *Component) Decoded() (ComponentData, error) {
	return DecodeComponentData(c.ComponentType, []byte(c.Data))
}

// denormKeys extracts the indexed mirror columns from a payload. The switch
// is exhaustive over the closed set of component kinds.
func denormKeys(data ComponentData) (chunkID *string, documentID *uuid.UUID) {
	switch d := data.(type) {
	case PositionData:
		if d.DocumentID != uuid.Nil {
			id := d.DocumentID
			documentID = &id
		}
	case ChunkRefData:
		if d.DocumentID != uuid.Nil {
			id := d.DocumentID
			documentID = &id
		}
		if d.PrimaryChunkID != "" {
			ck := d.PrimaryChunkID
			chunkID = &ck
		}
	case SparkData:
		if d.Anchor != nil && d.Anchor.DocumentID != uuid.Nil {
			id := d.Anchor.DocumentID
			documentID = &id
		}
	case CardData, VisualData, ContentData, TemporalData:
		// No indexed keys; these payloads never reference chunks directly.
	}
	return chunkID, documentID
}
