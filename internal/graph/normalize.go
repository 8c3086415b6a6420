package graph

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/apperr"
)

// Node and edge payloads arrive from several client generations, so fields
// have snake_case and camelCase aliases and a few legacy shapes. Pointer
// fields distinguish "absent" from "set to zero" for partial updates.

// NodePayload is a decoded, normalized node write request.
type NodePayload struct {
	ID        *uuid.UUID
	SphereID  *uuid.UUID
	Label     *string
	NodeType  *string
	Status    *string
	Summary   *string
	Position  *models.Position
	Metadata  map[string]any
	Links     []string
	HasLinks  bool
	Owners    []string
	HasOwners bool
}

// EdgePayload is a decoded, normalized edge write request.
type EdgePayload struct {
	ID           *uuid.UUID
	SphereID     *uuid.UUID
	SourceNodeID *uuid.UUID
	TargetNodeID *uuid.UUID
	RelationType *string
	Metadata     map[string]any
}

func pick(fields map[string]json.RawMessage, names ...string) (json.RawMessage, bool) {
	for _, n := range names {
		if raw, ok := fields[n]; ok && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

func decodeUUID(fields map[string]json.RawMessage, names ...string) (*uuid.UUID, error) {
	raw, ok := pick(fields, names...)
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, apperr.Newf(apperr.KindValidation, "%s must be a string", names[0])
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, apperr.Newf(apperr.KindValidation, "%s is not a valid id", names[0])
	}
	return &id, nil
}

func decodeString(fields map[string]json.RawMessage, names ...string) (*string, error) {
	raw, ok := pick(fields, names...)
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, apperr.Newf(apperr.KindValidation, "%s must be a string", names[0])
	}
	return &s, nil
}

// decodeStringList accepts a JSON array of strings or a single
// comma-separated string. Entries are trimmed, blanks dropped, order kept.
func decodeStringList(fields map[string]json.RawMessage, names ...string) ([]string, bool, error) {
	raw, ok := pick(fields, names...)
	if !ok {
		return nil, false, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return splitList(strings.Split(single, ",")), true, nil
	}
	var many []any
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, false, apperr.Newf(apperr.KindValidation, "%s must be a list or comma-separated string", names[0])
	}
	parts := make([]string, 0, len(many))
	for _, v := range many {
		s, ok := v.(string)
		if !ok {
			return nil, false, apperr.Newf(apperr.KindValidation, "%s entries must be strings", names[0])
		}
		parts = append(parts, s)
	}
	return splitList(parts), true, nil
}

func splitList(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// decodeArchived parses the legacy archived flag, which old clients send as
// a bool, a number, or a string.
func decodeArchived(fields map[string]json.RawMessage) (*bool, error) {
	raw, ok := pick(fields, "archived", "is_archived", "isArchived")
	if !ok {
		return nil, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		b = n != 0
		return &b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			b = true
		case "false", "0", "no", "":
			b = false
		default:
			return nil, apperr.Newf(apperr.KindValidation, "unrecognized archived value %q", s)
		}
		return &b, nil
	}
	return nil, apperr.New(apperr.KindValidation, "archived must be a boolean, number or string")
}

// DecodeNodePayload decodes and normalizes a node write request body.
func DecodeNodePayload(data []byte) (*NodePayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apperr.New(apperr.KindValidation, "body must be a JSON object")
	}

	p := &NodePayload{}
	var err error
	if p.ID, err = decodeUUID(fields, "id"); err != nil {
		return nil, err
	}
	if p.SphereID, err = decodeUUID(fields, "sphere_id", "sphereId"); err != nil {
		return nil, err
	}
	if p.Label, err = decodeString(fields, "label", "name"); err != nil {
		return nil, err
	}
	if p.NodeType, err = decodeString(fields, "node_type", "nodeType"); err != nil {
		return nil, err
	}
	if p.Status, err = decodeString(fields, "status"); err != nil {
		return nil, err
	}
	if p.Summary, err = decodeString(fields, "summary"); err != nil {
		return nil, err
	}

	if raw, ok := pick(fields, "position"); ok {
		// Each coordinate defaults to 0.5 independently, so "{}" and
		// `{"x": 0.2}` both land inside the unit square.
		var coords struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := json.Unmarshal(raw, &coords); err != nil {
			return nil, apperr.New(apperr.KindValidation, "position must be an object with x and y")
		}
		pos := models.Position{X: 0.5, Y: 0.5}
		if coords.X != nil {
			pos.X = *coords.X
		}
		if coords.Y != nil {
			pos.Y = *coords.Y
		}
		p.Position = &pos
	}
	if raw, ok := pick(fields, "metadata"); ok {
		if err := json.Unmarshal(raw, &p.Metadata); err != nil {
			return nil, apperr.New(apperr.KindValidation, "metadata must be an object")
		}
	}
	if p.Links, p.HasLinks, err = decodeStringList(fields, "links"); err != nil {
		return nil, err
	}
	if p.Owners, p.HasOwners, err = decodeStringList(fields, "owners"); err != nil {
		return nil, err
	}

	archived, err := decodeArchived(fields)
	if err != nil {
		return nil, err
	}
	if archived != nil {
		legacy := models.NodeStatusActive
		if *archived {
			legacy = models.NodeStatusArchived
		}
		if p.Status != nil && *p.Status != legacy {
			return nil, apperr.New(apperr.KindValidation, "archived flag conflicts with status")
		}
		p.Status = &legacy
	}

	if p.Label != nil {
		trimmed := strings.TrimSpace(*p.Label)
		p.Label = &trimmed
	}
	if p.NodeType != nil && !models.NodeTypes[*p.NodeType] {
		return nil, apperr.Newf(apperr.KindInvalidEnum, "unknown node type %q", *p.NodeType)
	}
	if p.Status != nil && !models.NodeStatuses[*p.Status] {
		return nil, apperr.Newf(apperr.KindInvalidEnum, "unknown status %q", *p.Status)
	}
	return p, nil
}

// DecodeEdgePayload decodes and normalizes an edge write request body.
func DecodeEdgePayload(data []byte) (*EdgePayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apperr.New(apperr.KindValidation, "body must be a JSON object")
	}

	p := &EdgePayload{}
	var err error
	if p.ID, err = decodeUUID(fields, "id"); err != nil {
		return nil, err
	}
	if p.SphereID, err = decodeUUID(fields, "sphere_id", "sphereId"); err != nil {
		return nil, err
	}
	if p.SourceNodeID, err = decodeUUID(fields, "source_node_id", "sourceNodeId", "source"); err != nil {
		return nil, err
	}
	if p.TargetNodeID, err = decodeUUID(fields, "target_node_id", "targetNodeId", "target"); err != nil {
		return nil, err
	}
	if p.RelationType, err = decodeString(fields, "relation_type", "relationType"); err != nil {
		return nil, err
	}
	if raw, ok := pick(fields, "metadata"); ok {
		if err := json.Unmarshal(raw, &p.Metadata); err != nil {
			return nil, apperr.New(apperr.KindValidation, "metadata must be an object")
		}
	}

	if p.RelationType != nil && !models.EdgeTypes[*p.RelationType] {
		return nil, apperr.Newf(apperr.KindInvalidEnum, "unknown relation type %q", *p.RelationType)
	}
	return p, nil
}
