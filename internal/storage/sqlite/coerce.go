package sqlite

import (
	"encoding/json"
	"log"
	"strconv"
	"time"
)

// This file isolates the permissive conversions applied at the store
// boundary. Embeddings and timestamps written by older tooling can arrive as
// heterogeneous JSON numerics or odd timestamp formats; reads coerce rather
// than fail, and every fallback is logged because it signals a data-quality
// problem in the stored row, not a normal condition.

// decodeEmbedding parses a JSON array of numbers into a float32 slice.
// Individual elements that cannot be converted coerce to 0.0. The result is
// never nil: an empty, missing, or wholly malformed column yields an empty
// slice.
func decodeEmbedding(raw string, column, id string) []float32 {
	if raw == "" || raw == "[]" {
		return []float32{}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		log.Printf("sqlite: %s for memorygram %s is not a JSON array, treating as empty: %v", column, id, err)
		return []float32{}
	}

	vec := make([]float32, len(elems))
	for i, e := range elems {
		vec[i] = coerceFloat32(e, column, id)
	}
	return vec
}

// coerceFloat32 converts one JSON array element to float32, defaulting to
// 0.0 on anything unconvertible.
func coerceFloat32(e json.RawMessage, column, id string) float32 {
	var f float64
	if err := json.Unmarshal(e, &f); err == nil {
		return float32(f)
	}

	// Some writers double-encode numbers as strings.
	var s string
	if err := json.Unmarshal(e, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			return float32(f)
		}
	}

	log.Printf("sqlite: unconvertible %s element %q for memorygram %s, defaulting to 0.0", column, string(e), id)
	return 0
}

// encodeEmbedding serialises a vector as a JSON array. Nil encodes as "[]"
// so the column never holds SQL NULL.
func encodeEmbedding(vec []float32) string {
	if len(vec) == 0 {
		return "[]"
	}
	b, err := json.Marshal(vec)
	if err != nil {
		// float32 slices always marshal; keep the row writable regardless.
		return "[]"
	}
	return string(b)
}

// timestampFormats are tried in order when parsing audit timestamps.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp parses an audit timestamp permissively. Epoch-second
// integers are accepted alongside the textual formats. The "now" fallback is
// a last resort and is logged as a data-quality smell.
func parseTimestamp(raw string, column, id string) time.Time {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}

	log.Printf("sqlite: unparseable %s %q for memorygram %s, falling back to now", column, raw, id)
	return time.Now().UTC()
}

// formatTimestamp is the canonical storage format for audit timestamps.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
