package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/engine"
	"github.com/Veraticus/smsledger/internal/extract"
	"github.com/Veraticus/smsledger/internal/template"
	"github.com/spf13/viper"
)

// Configuration keys.
const (
	KeyLearningEnabled        = "learning.enabled"
	KeyMaxEntries             = "learning.max_entries"
	KeyMinConfidence          = "learning.min_confidence_threshold"
	KeySaveAutomatically      = "learning.save_automatically"
	KeyValidationRequired     = "learning.validation_required"
	KeyUserConfirmationWeight = "learning.user_confirmation_weight"
	KeyRejectionThreshold     = "feedback.rejection_threshold"
	KeyMLEnabled              = "ml.enabled"
	KeyMLTimeout              = "ml.timeout"
	KeyMLHighAccuracy         = "ml.high_accuracy"
	KeyDateOrder              = "extract.date_order"
	KeyDefaultCurrency        = "extract.default_currency"
	KeyDatabasePath           = "database.path"
	KeyLogLevel               = "logging.level"
	KeyLogFormat              = "logging.format"
)

// Options is the full application configuration.
type Options struct {
	DatabasePath           string
	DefaultCurrency        string
	DateOrder              extract.DateOrder
	LogLevel               string
	LogFormat              string
	MLTimeout              time.Duration
	MinConfidenceThreshold float64
	UserConfirmationWeight float64
	MaxEntries             int
	RejectionThreshold     int
	LearningEnabled        bool
	SaveAutomatically      bool
	ValidationRequired     bool
	MLEnabled              bool
	MLHighAccuracy         bool
}

// Defaults returns the built-in configuration.
func Defaults() Options {
	store := template.DefaultOptions()
	eng := engine.DefaultConfig()
	return Options{
		DatabasePath:           DefaultDatabasePath,
		DefaultCurrency:        eng.DefaultCurrency,
		DateOrder:              eng.DateOrder,
		LogLevel:               "info",
		LogFormat:              "console",
		MLTimeout:              eng.MLTimeout,
		MinConfidenceThreshold: store.MinConfidenceThreshold,
		UserConfirmationWeight: store.UserConfirmationWeight,
		MaxEntries:             store.MaxEntries,
		RejectionThreshold:     eng.RejectionThreshold,
		LearningEnabled:        eng.Enabled,
		MLEnabled:              eng.MLEnabled,
	}
}

// SetDefaults registers the defaults with v.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault(KeyLearningEnabled, d.LearningEnabled)
	v.SetDefault(KeyMaxEntries, d.MaxEntries)
	v.SetDefault(KeyMinConfidence, d.MinConfidenceThreshold)
	v.SetDefault(KeySaveAutomatically, d.SaveAutomatically)
	v.SetDefault(KeyValidationRequired, d.ValidationRequired)
	v.SetDefault(KeyUserConfirmationWeight, d.UserConfirmationWeight)
	v.SetDefault(KeyRejectionThreshold, d.RejectionThreshold)
	v.SetDefault(KeyMLEnabled, d.MLEnabled)
	v.SetDefault(KeyMLTimeout, d.MLTimeout)
	v.SetDefault(KeyMLHighAccuracy, d.MLHighAccuracy)
	v.SetDefault(KeyDateOrder, string(d.DateOrder))
	v.SetDefault(KeyDefaultCurrency, d.DefaultCurrency)
	v.SetDefault(KeyDatabasePath, d.DatabasePath)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
}

// Load reads Options from v and validates them.
func Load(v *viper.Viper) (Options, error) {
	SetDefaults(v)
	o := Options{
		DatabasePath:           ExpandPath(v.GetString(KeyDatabasePath)),
		DefaultCurrency:        strings.ToUpper(strings.TrimSpace(v.GetString(KeyDefaultCurrency))),
		DateOrder:              extract.DateOrder(strings.ToLower(strings.TrimSpace(v.GetString(KeyDateOrder)))),
		LogLevel:               v.GetString(KeyLogLevel),
		LogFormat:              v.GetString(KeyLogFormat),
		MLTimeout:              v.GetDuration(KeyMLTimeout),
		MinConfidenceThreshold: v.GetFloat64(KeyMinConfidence),
		UserConfirmationWeight: v.GetFloat64(KeyUserConfirmationWeight),
		MaxEntries:             v.GetInt(KeyMaxEntries),
		RejectionThreshold:     v.GetInt(KeyRejectionThreshold),
		LearningEnabled:        v.GetBool(KeyLearningEnabled),
		SaveAutomatically:      v.GetBool(KeySaveAutomatically),
		ValidationRequired:     v.GetBool(KeyValidationRequired),
		MLEnabled:              v.GetBool(KeyMLEnabled),
		MLHighAccuracy:         v.GetBool(KeyMLHighAccuracy),
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Validate checks every setting and names the first offending key.
func (o Options) Validate() error {
	invalid := func(key string, value any) error {
		return fmt.Errorf("%w: %s = %v", common.ErrInvalidConfig, key, value)
	}

	switch {
	case o.MaxEntries < 1:
		return invalid(KeyMaxEntries, o.MaxEntries)
	case o.MinConfidenceThreshold <= 0 || o.MinConfidenceThreshold > 1:
		return invalid(KeyMinConfidence, o.MinConfidenceThreshold)
	case o.UserConfirmationWeight <= 0:
		return invalid(KeyUserConfirmationWeight, o.UserConfirmationWeight)
	case o.RejectionThreshold < 1:
		return invalid(KeyRejectionThreshold, o.RejectionThreshold)
	case o.MLTimeout <= 0:
		return invalid(KeyMLTimeout, o.MLTimeout)
	case o.DateOrder != extract.MonthFirst && o.DateOrder != extract.DayFirst:
		return invalid(KeyDateOrder, o.DateOrder)
	case len(o.DefaultCurrency) != 3:
		return invalid(KeyDefaultCurrency, o.DefaultCurrency)
	case o.LogFormat != "console" && o.LogFormat != "json":
		return invalid(KeyLogFormat, o.LogFormat)
	case strings.TrimSpace(o.DatabasePath) == "":
		return fmt.Errorf("%w: %s", common.ErrMissingConfig, KeyDatabasePath)
	}
	if _, err := common.ParseLevel(o.LogLevel); err != nil {
		return err
	}
	return nil
}

// StoreOptions returns the template store settings.
func (o Options) StoreOptions() template.Options {
	return template.Options{
		MaxEntries:             o.MaxEntries,
		MinConfidenceThreshold: o.MinConfidenceThreshold,
		UserConfirmationWeight: o.UserConfirmationWeight,
		ValidationRequired:     o.ValidationRequired,
	}
}

// EngineConfig returns the cascade settings.
func (o Options) EngineConfig() engine.Config {
	return engine.Config{
		DefaultCurrency:    o.DefaultCurrency,
		DateOrder:          o.DateOrder,
		MLTimeout:          o.MLTimeout,
		RejectionThreshold: o.RejectionThreshold,
		Enabled:            o.LearningEnabled,
		SaveAutomatically:  o.SaveAutomatically,
		MLEnabled:          o.MLEnabled,
		HighAccuracy:       o.MLHighAccuracy,
	}
}
