package services

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// Payload fallbacks for points written by other producers.
var (
	textKeys      = []string{"answer", "result", domain.PayloadText, "user_input"}
	scoreKeys     = []string{"rating", "score", "payload_score"}
	sourceKeys    = []string{domain.PayloadSource, "module", "source_name"}
	createdAtKeys = []string{domain.PayloadCreatedAt, "timestamp"}
)

// unknownSource labels items whose payload names no source.
const unknownSource = "unknown"

// chunkPayload builds the vector payload of one chunk. Document metadata is
// copied first so the canonical keys always win.
func chunkPayload(metadata map[string]any, title, text string, row domain.ChunkRow, createdAt time.Time) map[string]any {
	payload := maps.Clone(metadata)
	if payload == nil {
		payload = make(map[string]any, 8)
	}
	payload[domain.PayloadText] = text
	payload[domain.PayloadDocumentID] = row.DocumentID
	payload[domain.PayloadChunkIndex] = row.ChunkIndex
	payload[domain.PayloadSource] = row.Source
	payload[domain.PayloadCreatedAt] = createdAt.UTC().Format(time.RFC3339)
	payload[domain.PayloadVisibility] = string(row.Visibility)
	if title != "" {
		payload[domain.PayloadTitle] = title
	}
	return payload
}

// formatPayload turns a stored payload into an Item. score is the index
// similarity, nil when the point came from a scroll.
func formatPayload(id string, score *float64, payload map[string]any, now time.Time) domain.Item {
	item := domain.Item{
		ID:         id,
		Text:       firstString(payload, textKeys...),
		Source:     firstString(payload, sourceKeys...),
		Visibility: domain.VisibilityOf(stringValue(payload[domain.PayloadVisibility])),
		Title:      stringValue(payload[domain.PayloadTitle]),
		CreatedAt:  now,
	}
	if item.Source == "" {
		item.Source = unknownSource
	}

	if score != nil {
		item.Score = *score
	} else {
		for _, key := range scoreKeys {
			if f, ok := floatValue(payload[key]); ok {
				item.Score = f
				break
			}
		}
	}

	for _, key := range createdAtKeys {
		if t, ok := timeValue(payload[key]); ok {
			item.CreatedAt = t
			break
		}
	}

	if n, ok := floatValue(payload[domain.PayloadDocumentID]); ok {
		item.DocumentID = int64(n)
	}
	if n, ok := floatValue(payload[domain.PayloadChunkIndex]); ok {
		item.ChunkIndex = int(n)
	}
	return item
}

// rowItem formats a relational row. Relational rows carry no score.
func rowItem(row domain.ChunkRow) domain.Item {
	source := row.Source
	if source == "" {
		source = domain.DefaultSource
	}
	return domain.Item{
		ID:         strconv.FormatInt(row.ID, 10),
		Text:       row.Text,
		Score:      0,
		Source:     source,
		CreatedAt:  row.DocumentCreatedAt,
		Visibility: domain.VisibilityOf(string(row.Visibility)),
		DocumentID: row.DocumentID,
		ChunkIndex: row.ChunkIndex,
	}
}

func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(payload[key]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// floatValue reads any numeric encoding a payload decoder may produce.
func floatValue(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// timeValue parses RFC 3339 strings with or without a zone, and unix seconds.
func timeValue(v any) (time.Time, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}
	if f, ok := floatValue(v); ok && f > 0 {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	return time.Time{}, false
}
