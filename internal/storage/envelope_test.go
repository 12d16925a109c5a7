package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(id string) model.LearnedEntry {
	conf := 0.65
	msg := "You spent $50 at The Coffee Shop"
	return model.LearnedEntry{
		ID:           id,
		RawMessage:   msg,
		SenderHint:   "BANK",
		TemplateHash: "0123456789abcdef",
		Timestamp:    time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		Confidence:   &conf,
		ConfirmedFields: model.ConfirmedFields{
			Type:     model.TypeExpense,
			Amount:   decimal.NewFromInt(-50),
			Currency: "USD",
			Vendor:   "Coffee Shop",
			Category: model.DefaultCategory,
		},
		FieldTokenMap: model.FieldTokenMap{
			Amount: []model.PositionedToken{{Token: "50", Position: 11, ContextBefore: []string{"spent", "$"}}},
		},
		ConfirmationHistory: []model.ConfirmationEvent{
			{Timestamp: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), Source: model.SourceUserExplicit},
		},
		UserConfirmed: true,
	}
}

func TestEncodeDecodeEntries(t *testing.T) {
	saved := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
	entries := []model.LearnedEntry{testEntry("a"), testEntry("b")}

	data, err := EncodeEntries(entries, saved)
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.EqualValues(t, EnvelopeVersion, env["version"])
	assert.Contains(t, env, "savedAt")

	decoded, err := DecodeEntries(data, time.Now())
	require.NoError(t, err)
	assert.False(t, decoded.Migrated)
	assert.Zero(t, decoded.Skipped)
	require.Len(t, decoded.Entries, 2)

	got := decoded.Entries[0]
	assert.Equal(t, "a", got.ID)
	assert.True(t, decimal.NewFromInt(-50).Equal(got.ConfirmedFields.Amount))
	assert.Equal(t, entries[0].FieldTokenMap, got.FieldTokenMap)
	assert.Equal(t, entries[0].ConfirmationHistory[0].Source, got.ConfirmationHistory[0].Source)
}

func TestDecodeEntries_Empty(t *testing.T) {
	decoded, err := DecodeEntries(nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, decoded.Entries)
}

func TestDecodeEntries_SkipsCorruptedEntries(t *testing.T) {
	good := testEntry("good")
	bad := testEntry("bad")
	bad.ConfirmedFields.Amount = decimal.NewFromInt(50) // wrong sign for an expense
	misplaced := testEntry("misplaced")
	misplaced.FieldTokenMap.Amount[0].Position = 3

	data, err := EncodeEntries([]model.LearnedEntry{good, bad, misplaced}, time.Now())
	require.NoError(t, err)

	// Splice in an entry that is not even an object.
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	var raw []json.RawMessage
	require.NoError(t, json.Unmarshal(env["entries"], &raw))
	raw = append(raw, json.RawMessage(`"garbage"`))
	env["entries"], err = json.Marshal(raw)
	require.NoError(t, err)
	data, err = json.Marshal(env)
	require.NoError(t, err)

	decoded, err := DecodeEntries(data, time.Now())
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, "good", decoded.Entries[0].ID)
	assert.Equal(t, 3, decoded.Skipped)
}

func TestDecodeEntries_CorruptedPayload(t *testing.T) {
	for _, payload := range []string{"{not json", "[1,", "42"} {
		_, err := DecodeEntries([]byte(payload), time.Now())
		assert.ErrorIs(t, err, common.ErrDatabaseCorrupted, payload)
	}
}

func TestDecodeEntries_LegacyArrayIsMigrated(t *testing.T) {
	legacy := testEntry("legacy")
	legacy.ConfirmationHistory = nil
	legacy.Confidence = nil
	legacy.Timestamp = time.Time{}

	data, err := json.Marshal([]model.LearnedEntry{legacy})
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	decoded, err := DecodeEntries(data, now)
	require.NoError(t, err)
	assert.True(t, decoded.Migrated)
	assert.Equal(t, 1, decoded.Version)
	require.Len(t, decoded.Entries, 1)

	got := decoded.Entries[0]
	assert.Equal(t, now, got.Timestamp)
	require.Len(t, got.ConfirmationHistory, 1)
	assert.Equal(t, model.SourceSystemMigration, got.ConfirmationHistory[0].Source)
	assert.Equal(t, now, got.ConfirmationHistory[0].Timestamp)
}

func TestDecodeEntries_LegacyKeepsExistingHistory(t *testing.T) {
	legacy := testEntry("legacy")
	data, err := json.Marshal([]model.LearnedEntry{legacy})
	require.NoError(t, err)

	decoded, err := DecodeEntries(data, time.Now())
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 1)
	require.Len(t, decoded.Entries[0].ConfirmationHistory, 1)
	assert.Equal(t, model.SourceUserExplicit, decoded.Entries[0].ConfirmationHistory[0].Source)
}
