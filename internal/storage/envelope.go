package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/model"
)

// EnvelopeVersion is the current layout of the stored entries payload.
const EnvelopeVersion = 2

// envelope wraps the stored entries with a format version.
type envelope struct {
	SavedAt time.Time         `json:"savedAt"`
	Entries []json.RawMessage `json:"entries"`
	Version int               `json:"version"`
}

// Decoded is the result of reading a stored entries payload.
type Decoded struct {
	Entries []model.LearnedEntry
	// Skipped counts entries dropped because they failed to parse or validate.
	Skipped int
	// Version is the payload version; legacy bare arrays report 1.
	Version int
	// Migrated is set when the payload was in an older layout and should be
	// rewritten.
	Migrated bool
}

// EncodeEntries serializes entries inside a versioned envelope.
func EncodeEntries(entries []model.LearnedEntry, savedAt time.Time) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(entries))
	for i := range entries {
		b, err := json.Marshal(&entries[i])
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry %s: %w", entries[i].ID, err)
		}
		raw = append(raw, b)
	}

	data, err := json.Marshal(envelope{
		Version: EnvelopeVersion,
		SavedAt: savedAt.UTC(),
		Entries: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode entries: %w", err)
	}
	return data, nil
}

// DecodeEntries parses a stored payload. Entries that fail to parse or
// validate are skipped with a warning; the rest remain usable. Legacy bare
// arrays are accepted, and entries without history gain a system-migration
// event stamped with now.
func DecodeEntries(data []byte, now time.Time) (Decoded, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Decoded{Version: EnvelopeVersion}, nil
	}

	var raw []json.RawMessage
	var out Decoded

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Decoded{}, fmt.Errorf("%w: legacy entries: %w", common.ErrDatabaseCorrupted, err)
		}
		out.Version = 1
		out.Migrated = true
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Decoded{}, fmt.Errorf("%w: entries envelope: %w", common.ErrDatabaseCorrupted, err)
		}
		if env.Version > EnvelopeVersion {
			slog.Warn("Stored entries written by a newer version",
				"version", env.Version,
				"supported", EnvelopeVersion)
		}
		raw = env.Entries
		out.Version = env.Version
		out.Migrated = env.Version < EnvelopeVersion
	default:
		return Decoded{}, fmt.Errorf("%w: unrecognized entries payload", common.ErrDatabaseCorrupted)
	}

	out.Entries = make([]model.LearnedEntry, 0, len(raw))
	for i, item := range raw {
		var entry model.LearnedEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			slog.Warn("Skipping unreadable learned entry", "index", i, "error", err)
			out.Skipped++
			continue
		}
		if out.Migrated {
			migrateEntry(&entry, now)
		}
		if err := entry.Validate(); err != nil {
			slog.Warn("Skipping invalid learned entry", "index", i, "id", entry.ID, "error", err)
			out.Skipped++
			continue
		}
		out.Entries = append(out.Entries, entry)
	}

	return out, nil
}

// migrateEntry fills fields older layouts did not carry.
func migrateEntry(entry *model.LearnedEntry, now time.Time) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if len(entry.ConfirmationHistory) == 0 {
		entry.ConfirmationHistory = []model.ConfirmationEvent{{
			Timestamp: entry.Timestamp,
			Source:    model.SourceSystemMigration,
		}}
	}
}
