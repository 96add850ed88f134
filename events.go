package main

import (
	"encoding/json"
	"fmt"
	"log"
)

// SegmentationPayload is the wire shape the segmentation backend returns
// for one image. Points arrive as [x, y] pairs.
type SegmentationPayload struct {
	Polygons []struct {
		ID     string      `json:"id"`
		Points [][]float64 `json:"points"`
		Type   string      `json:"type"`
		Class  string      `json:"class"`
	} `json:"polygons"`
	Model     string  `json:"model"`
	Threshold float64 `json:"threshold"`
}

// ToPolygons converts the payload into the editor's polygon model,
// skipping malformed entries rather than failing the whole load
func (p *SegmentationPayload) ToPolygons() []Polygon {
	polygons := make([]Polygon, 0, len(p.Polygons))
	for i, raw := range p.Polygons {
		points := make([]Point, 0, len(raw.Points))
		for _, pair := range raw.Points {
			if len(pair) < 2 {
				continue
			}
			points = append(points, Point{X: pair[0], Y: pair[1]})
		}
		if len(points) < 3 {
			log.Printf("⚠️  Skipping polygon %q: fewer than 3 valid points\n", raw.ID)
			continue
		}

		id := raw.ID
		if id == "" {
			id = fmt.Sprintf("seg-%d", i)
		}
		polyType := PolygonExternal
		if raw.Type == string(PolygonInternal) {
			polyType = PolygonInternal
		}

		polygons = append(polygons, Polygon{ID: id, Points: points, Type: polyType, Class: raw.Class})
	}
	return polygons
}

// RealtimeEvent is the tagged union of update events pushed by the
// backend. Each concrete event names the image it belongs to.
type RealtimeEvent interface {
	EventImageID() string
}

// SegmentationUpdateEvent announces a finished (or failed) segmentation
// run for an image
type SegmentationUpdateEvent struct {
	ImageID   string               `json:"imageId"`
	ProjectID string               `json:"projectId"`
	Status    string               `json:"status"`
	Result    *SegmentationPayload `json:"segmentationResult,omitempty"`
}

func (e SegmentationUpdateEvent) EventImageID() string { return e.ImageID }

// ThumbnailUpdatedEvent announces a refreshed thumbnail; the editor core
// has nothing to do with it beyond acknowledging the image
type ThumbnailUpdatedEvent struct {
	ImageID   string `json:"imageId"`
	ProjectID string `json:"projectId"`
}

func (e ThumbnailUpdatedEvent) EventImageID() string { return e.ImageID }

// DecodeRealtimeEvent parses one event envelope {type, payload}
func DecodeRealtimeEvent(data []byte) (RealtimeEvent, error) {
	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}

	switch envelope.Type {
	case "segmentation-update":
		var ev SegmentationUpdateEvent
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return nil, fmt.Errorf("invalid segmentation-update payload: %w", err)
		}
		return ev, nil
	case "thumbnail:updated":
		var ev ThumbnailUpdatedEvent
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return nil, fmt.Errorf("invalid thumbnail:updated payload: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", envelope.Type)
	}
}

// HandleEvent applies a realtime event to the session. Events for other
// images are ignored; a segmentation update for the open image re-seeds
// the polygon list and history, discarding any in-flight interaction.
func (s *EditorSession) HandleEvent(ev RealtimeEvent) bool {
	if ev.EventImageID() != s.ImageID() {
		return false
	}

	switch ev := ev.(type) {
	case SegmentationUpdateEvent:
		if ev.Status != "completed" || ev.Result == nil {
			return false
		}
		log.Printf("🔄 Segmentation update for image %s: %d polygons\n",
			ev.ImageID, len(ev.Result.Polygons))
		s.LoadSegmentation(ev.ImageID, ev.Result.ToPolygons())
		return true
	case ThumbnailUpdatedEvent:
		// Thumbnails do not affect polygon state
		return false
	default:
		return false
	}
}
