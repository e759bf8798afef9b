package types

import (
	"encoding/json"
	"time"
)

// ArtifactStatus is the lifecycle status of an artifact. Only served artifacts are stored.
type ArtifactStatus string

// ArtifactServed marks an artifact produced by a successful invocation
const ArtifactServed ArtifactStatus = "served"

// Artifact is the output of one agent invocation within a session
type Artifact struct {
	ID             string         `json:"id"`
	Role           Role           `json:"role"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Summary        string         `json:"summary"`
	Status         ArtifactStatus `json:"status"`
	DisplayType    DisplayType    `json:"display_type"`
	StructuredData StructuredData `json:"structured_data,omitempty"`
	Tokens         int            `json:"tokens"`
	CreatedAt      time.Time      `json:"created_at"`
}

// artifactJSON mirrors Artifact with the payload left raw for tag-directed decoding
type artifactJSON struct {
	ID             string          `json:"id"`
	Role           Role            `json:"role"`
	Title          string          `json:"title"`
	Content        string          `json:"content"`
	Summary        string          `json:"summary"`
	Status         ArtifactStatus  `json:"status"`
	DisplayType    DisplayType     `json:"display_type"`
	StructuredData json.RawMessage `json:"structured_data,omitempty"`
	Tokens         int             `json:"tokens"`
	CreatedAt      time.Time       `json:"created_at"`
}

// UnmarshalJSON decodes the structured payload according to DisplayType.
func (a *Artifact) UnmarshalJSON(b []byte) error {
	var aux artifactJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	data, err := DecodeStructuredData(aux.DisplayType, aux.StructuredData)
	if err != nil {
		return err
	}
	*a = Artifact{
		ID:             aux.ID,
		Role:           aux.Role,
		Title:          aux.Title,
		Content:        aux.Content,
		Summary:        aux.Summary,
		Status:         aux.Status,
		DisplayType:    aux.DisplayType,
		StructuredData: data,
		Tokens:         aux.Tokens,
		CreatedAt:      aux.CreatedAt,
	}
	return nil
}
