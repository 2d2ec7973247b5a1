package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Corroboration CorroborationConfig `mapstructure:"corroboration"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Proof         ProofConfig         `mapstructure:"proof"`
	Extraction    ExtractionConfig    `mapstructure:"extraction"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	MCP           MCPConfig           `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig selects and configures the lookup-table store.
// Driver "sqlite" reads a local file; "postgres" connects through pgxpool.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// RulesConfig holds the rule engine constants.
type RulesConfig struct {
	ClaimWindowDays      int                  `mapstructure:"claim_window_days"`
	DateFormats          []string             `mapstructure:"date_formats"`
	TreatmentSpecialties []TreatmentSpecialty `mapstructure:"treatment_specialties"`
	LookupCacheSize      int                  `mapstructure:"lookup_cache_size"`
	LookupCacheTTL       time.Duration        `mapstructure:"lookup_cache_ttl"`
}

// TreatmentSpecialty pairs a treatment name with the provider type expected to deliver it.
// Kept as a list in configuration so treatment names keep their case.
type TreatmentSpecialty struct {
	Treatment string `mapstructure:"treatment" json:"treatment"`
	Specialty string `mapstructure:"specialty" json:"specialty"`
}

// SpecialtyMap returns the treatment -> specialty lookup.
func (c RulesConfig) SpecialtyMap() map[string]string {
	m := make(map[string]string, len(c.TreatmentSpecialties))
	for _, ts := range c.TreatmentSpecialties {
		m[ts.Treatment] = ts.Specialty
	}
	return m
}

// CorroborationConfig holds the fracture corroboration constants.
type CorroborationConfig struct {
	ConfidenceThreshold float64          `mapstructure:"confidence_threshold"`
	ImageSize           int              `mapstructure:"image_size"`
	BoneClasses         []string         `mapstructure:"bone_classes"`
	BoneCodes           []BoneCode       `mapstructure:"bone_codes"`
	FractureFamilies    []FractureFamily `mapstructure:"fracture_families"`
}

// BoneCode maps a detected bone to its ICD-10 fracture code.
type BoneCode struct {
	Bone  string `mapstructure:"bone" json:"bone"`
	ICD10 string `mapstructure:"icd10" json:"icd10"`
}

// FractureFamily lists the codes that corroborate a claimed code.
type FractureFamily struct {
	Code    string   `mapstructure:"code" json:"code"`
	Allowed []string `mapstructure:"allowed" json:"allowed"`
}

// BoneCodeMap returns the bone -> ICD-10 lookup.
func (c CorroborationConfig) BoneCodeMap() map[string]string {
	m := make(map[string]string, len(c.BoneCodes))
	for _, bc := range c.BoneCodes {
		m[bc.Bone] = bc.ICD10
	}
	return m
}

// FamilyMap returns the claimed code -> allow-list lookup.
func (c CorroborationConfig) FamilyMap() map[string][]string {
	m := make(map[string][]string, len(c.FractureFamilies))
	for _, f := range c.FractureFamilies {
		m[f.Code] = f.Allowed
	}
	return m
}

// DetectionConfig configures the object-detection backend.
type DetectionConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	ModelName      string        `mapstructure:"model_name"`
	ModelPath      string        `mapstructure:"model_path"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	RetryCount     int           `mapstructure:"retry_count"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	BreakerMaxReqs uint32        `mapstructure:"breaker_max_requests"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	BreakerTrips   uint32        `mapstructure:"breaker_consecutive_failures"`
}

// CacheConfig represents the optional Redis prediction cache configuration
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
	TimeZone    string `mapstructure:"time_zone"`
}

// ExtractionConfig configures document text extraction.
type ExtractionConfig struct {
	PdfToTextPath string `mapstructure:"pdftotext_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	TransportType  string        `mapstructure:"transport_type"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProofConfig bounds the server-side proof records awaiting finalization.
type ProofConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// DefaultProofConfig keeps up to 10000 unfinalized proofs for an hour.
func DefaultProofConfig() ProofConfig {
	return ProofConfig{Capacity: 10000, TTL: time.Hour}
}

// DefaultTreatmentSpecialties is the expected provider specialty per treatment.
func DefaultTreatmentSpecialties() []TreatmentSpecialty {
	return []TreatmentSpecialty{
		{Treatment: "Dialysis", Specialty: "Nephrologist"},
		{Treatment: "Chemotherapy", Specialty: "Oncologist"},
		{Treatment: "Angioplasty", Specialty: "Cardiologist"},
		{Treatment: "Cataract", Specialty: "Ophthalmologist"},
		{Treatment: "Fracture", Specialty: "Orthologist"},
	}
}

// DefaultDateFormats is the lenient claim/provider date parse order. Single digit days and
// months are accepted, so "2024-1-5" and "2024-01-05" are the same date.
func DefaultDateFormats() []string {
	return []string{"2006-1-2", "2-1-2006", "2006/1/2", "2/1/2006", "2006.1.2"}
}

// DefaultBoneClasses is the detection model's class table, indexed by class id.
func DefaultBoneClasses() []string {
	return []string{"femur", "tibia", "radius", "ulna"}
}

// DefaultBoneCodes maps detected bones to their ICD-10 fracture code.
func DefaultBoneCodes() []BoneCode {
	return []BoneCode{
		{Bone: "femur", ICD10: "S72.0"},
		{Bone: "tibia", ICD10: "S82.5"},
		{Bone: "radius", ICD10: "S52.5"},
		{Bone: "ulna", ICD10: "S52.6"},
	}
}

// DefaultFractureFamilies expands a claimed code to the codes that corroborate it.
func DefaultFractureFamilies() []FractureFamily {
	return []FractureFamily{
		{Code: "S72.0", Allowed: []string{"S72.0", "S72.1", "S72.2", "S72.3"}},
		{Code: "S82.5", Allowed: []string{"S82.5", "S82.6", "S82.7", "S82.8"}},
		{Code: "S52.5", Allowed: []string{"S52.5", "S52.6", "S52.7", "S52.8"}},
	}
}

// DefaultRulesConfig returns the rule engine defaults.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		ClaimWindowDays:      3 * 365,
		DateFormats:          DefaultDateFormats(),
		TreatmentSpecialties: DefaultTreatmentSpecialties(),
		LookupCacheSize:      1000,
		LookupCacheTTL:       5 * time.Minute,
	}
}

// DefaultCorroborationConfig returns the corroboration pipeline defaults.
func DefaultCorroborationConfig() CorroborationConfig {
	return CorroborationConfig{
		ConfidenceThreshold: 0.5,
		ImageSize:           640,
		BoneClasses:         DefaultBoneClasses(),
		BoneCodes:           DefaultBoneCodes(),
		FractureFamilies:    DefaultFractureFamilies(),
	}
}
