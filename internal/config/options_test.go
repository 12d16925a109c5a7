package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/test")

	o, err := Load(viper.New())
	require.NoError(t, err)

	assert.True(t, o.LearningEnabled)
	assert.Equal(t, 500, o.MaxEntries)
	assert.InDelta(t, 0.7, o.MinConfidenceThreshold, 1e-9)
	assert.InDelta(t, 1.0, o.UserConfirmationWeight, 1e-9)
	assert.False(t, o.SaveAutomatically)
	assert.False(t, o.ValidationRequired)
	assert.Equal(t, 3, o.RejectionThreshold)
	assert.True(t, o.MLEnabled)
	assert.Equal(t, 2*time.Second, o.MLTimeout)
	assert.False(t, o.MLHighAccuracy)
	assert.Equal(t, extract.MonthFirst, o.DateOrder)
	assert.Equal(t, "USD", o.DefaultCurrency)
	assert.Equal(t, "/home/test/.local/share/smsledger/smsledger.db", o.DatabasePath)
}

func TestLoad_Overrides(t *testing.T) {
	v := viper.New()
	v.Set(KeyMaxEntries, 10)
	v.Set(KeyDateOrder, "DMY")
	v.Set(KeyDefaultCurrency, " egp ")
	v.Set(KeyMLTimeout, "500ms")
	v.Set(KeySaveAutomatically, true)
	v.Set(KeyDatabasePath, "/tmp/ledger.db")

	o, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 10, o.MaxEntries)
	assert.Equal(t, extract.DayFirst, o.DateOrder)
	assert.Equal(t, "EGP", o.DefaultCurrency)
	assert.Equal(t, 500*time.Millisecond, o.MLTimeout)
	assert.True(t, o.SaveAutomatically)
	assert.Equal(t, "/tmp/ledger.db", o.DatabasePath)

	assert.Equal(t, 10, o.StoreOptions().MaxEntries)
	assert.True(t, o.EngineConfig().SaveAutomatically)
	assert.Equal(t, extract.DayFirst, o.EngineConfig().DateOrder)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *Options)
		key    string
	}{
		{"max entries", func(o *Options) { o.MaxEntries = 0 }, KeyMaxEntries},
		{"threshold too high", func(o *Options) { o.MinConfidenceThreshold = 1.5 }, KeyMinConfidence},
		{"threshold zero", func(o *Options) { o.MinConfidenceThreshold = 0 }, KeyMinConfidence},
		{"weight", func(o *Options) { o.UserConfirmationWeight = -1 }, KeyUserConfirmationWeight},
		{"rejections", func(o *Options) { o.RejectionThreshold = 0 }, KeyRejectionThreshold},
		{"timeout", func(o *Options) { o.MLTimeout = 0 }, KeyMLTimeout},
		{"date order", func(o *Options) { o.DateOrder = "ymd" }, KeyDateOrder},
		{"currency", func(o *Options) { o.DefaultCurrency = "DOLLARS" }, KeyDefaultCurrency},
		{"log format", func(o *Options) { o.LogFormat = "xml" }, KeyLogFormat},
		{"log level", func(o *Options) { o.LogLevel = "loud" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Defaults()
			tt.modify(&o)
			err := o.Validate()
			require.ErrorIs(t, err, common.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.key)
		})
	}

	o := Defaults()
	o.DatabasePath = " "
	assert.ErrorIs(t, o.Validate(), common.ErrMissingConfig)
	assert.NoError(t, Defaults().Validate())
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	t.Setenv("LEDGER_DIR", "/data")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", "/home/test"},
		{"~/ledger.db", "/home/test/ledger.db"},
		{"$LEDGER_DIR/ledger.db", "/data/ledger.db"},
		{"/abs/path.db", "/abs/path.db"},
		{"~user/file", "~user/file"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.in), tt.in)
	}
}

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "ledger.db")
	require.NoError(t, EnsureParentDir(path))
	assert.DirExists(t, filepath.Join(dir, "a", "b"))
	assert.NoError(t, EnsureParentDir("ledger.db"))
}
