package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags switches optional parts of the assistant on and off.
// Every flag can be overridden with FEATURE_<NAME>=true|false.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	FeatureAnalyticsAPI     = "analytics.api"      // /api/v1/analytics and /students routes
	FeatureRosterWriteback  = "roster.writeback"   // append reports to the roster store
	FeatureDocumentHistory  = "documents.history"  // record generated documents in PostgreSQL
	FeatureParentSignature  = "parent.signature"   // sign parent messages with TEACHER_NAME
	FeatureRosterRefreshAPI = "roster.refresh_api" // POST /api/v1/roster/refresh
)

// LoadFeatureFlags returns the defaults with environment overrides applied.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	for _, f := range []Feature{
		{Name: FeatureAnalyticsAPI, Description: "Serve roster analytics over HTTP", Enabled: true},
		{Name: FeatureRosterWriteback, Description: "Append generated reports to the roster", Enabled: true},
		{Name: FeatureDocumentHistory, Description: "Record generated documents", Enabled: true},
		{Name: FeatureParentSignature, Description: "Sign parent messages with the configured teacher name", Enabled: true},
		{Name: FeatureRosterRefreshAPI, Description: "Allow forcing a roster re-read", Enabled: true},
	} {
		f := f
		ff.features[f.Name] = &f
	}
}

func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "roster.writeback" -> "FEATURE_ROSTER_WRITEBACK"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on. Unknown features are off, and
// so is every feature of a nil set.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// Set turns a known feature on or off.
func (ff *FeatureFlags) Set(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.Enabled = enabled
	return nil
}

// Names returns the known feature names, sorted.
func (ff *FeatureFlags) Names() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	names := make([]string, 0, len(ff.features))
	for name := range ff.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- Errors ---

// ErrFeatureNotFound is returned for a name that is not a known feature.
var ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
