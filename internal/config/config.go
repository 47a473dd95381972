package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/user/ce65_converter_go/internal/parser"
	"gopkg.in/yaml.v3"
)

var ErrInvalidList = errors.New("config: invalid integer list")

// Template tells which caller the configuration was written for.
type Template string

const (
	TemplateUnknown  Template = ""
	TemplateMonitor  Template = "monitor"  // online monitor, [CE65] section
	TemplateAnalysis Template = "analysis" // offline analysis, identifier key
)

// Known reports whether t is empty or one of the supported templates.
func (t Template) Known() bool {
	switch t {
	case TemplateUnknown, TemplateMonitor, TemplateAnalysis:
		return true
	}
	return false
}

// Built-in SimpleCut submatrices: columns [0,21) -> 1500, [21,42) -> 1800, [42,64) -> 500.
var (
	DefaultSubmatrixEdges      = []int{21, 42, 64}
	DefaultSubmatrixThresholds = []int{1500, 1800, 500}
)

const (
	DefaultSeedThresholdSNR  = 10.0
	DefaultIdentifierPattern = "CE65_"
)

// Config represents the converter configuration
type Config struct {
	Template          Template         `yaml:"template"`
	Geometry          parser.Geometry  `yaml:"geometry"`
	Sensor            *SensorConfig    `yaml:"CE65"`
	Identifier        string           `yaml:"identifier"`         // Sub-event name, e.g. CE65_4
	IdentifierPattern string           `yaml:"identifier_pattern"` // Identifiers not containing this are declined (default: CE65_)
	CalibrationFile   string           `yaml:"calibration_file"`
	MQTT              MQTTConfig       `yaml:"mqtt"`
	Prometheus        PrometheusConfig `yaml:"prometheus"`
	Logging           LoggingConfig    `yaml:"logging"`
}

// SensorConfig is the [CE65] section written for the online monitor.
type SensorConfig struct {
	SubmatrixN         int     `yaml:"submatrix_n"`
	SubmatrixEdge      IntList `yaml:"submatrix_edge"`      // Strictly increasing column boundaries
	SubmatrixThreshold IntList `yaml:"submatrix_threshold"` // One threshold per submatrix
	CalibrationFile    string  `yaml:"calibration_file"`
	SeedThresholdSNR   float64 `yaml:"seed_threshold_snr"` // default: 10
}

// MQTTConfig contains MQTT publishing settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`    // default: random
	TopicPrefix string `yaml:"topic_prefix"` // default: ce65
	QoS         byte   `yaml:"qos"`
}

// PrometheusConfig contains metrics settings
type PrometheusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`    // default: :9165
	Namespace string `yaml:"namespace"` // default: ce65
}

// LoggingConfig mirrors the LOG_LEVEL environment variable.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// IntList accepts either a YAML sequence or a comma separated string ("21, 42, 64").
type IntList []int

func (l *IntList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var ints []int
		if err := value.Decode(&ints); err != nil {
			return fmt.Errorf("%w at line %d: %v", ErrInvalidList, value.Line, err)
		}
		*l = ints
	case yaml.ScalarNode:
		ints, err := ParseIntList(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*l = ints
	default:
		return fmt.Errorf("%w at line %d: expected a list or a string", ErrInvalidList, value.Line)
	}
	return nil
}

// ParseIntList parses "21, 42, 64". Empty items are rejected.
func ParseIntList(s string) (IntList, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ints := make(IntList, 0, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: item %d of %q", ErrInvalidList, i+1, s)
		}
		ints = append(ints, v)
	}
	return ints, nil
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return config, nil
}

// Parse decodes YAML, validates it and fills defaults.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	// Set defaults if not specified
	if config.Geometry.Width == 0 && config.Geometry.Height == 0 {
		config.Geometry = parser.DefaultGeometry()
	}
	if err := config.Geometry.Validate(); err != nil {
		return nil, err
	}
	if config.IdentifierPattern == "" {
		config.IdentifierPattern = DefaultIdentifierPattern
	}
	if config.Sensor != nil && config.Sensor.SeedThresholdSNR < 0 {
		return nil, fmt.Errorf("CE65.seed_threshold_snr must not be negative, got %g", config.Sensor.SeedThresholdSNR)
	}
	if config.Sensor != nil && config.Sensor.SeedThresholdSNR == 0 {
		config.Sensor.SeedThresholdSNR = DefaultSeedThresholdSNR
	}
	if config.MQTT.TopicPrefix == "" {
		config.MQTT.TopicPrefix = "ce65"
	}
	if config.MQTT.Enabled && config.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if config.MQTT.QoS > 2 {
		return nil, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", config.MQTT.QoS)
	}
	if config.Prometheus.Listen == "" {
		config.Prometheus.Listen = ":9165"
	}
	if config.Prometheus.Namespace == "" {
		config.Prometheus.Namespace = "ce65"
	}

	// Malformed submatrix lists make the SimpleCut fallback unusable
	if config.Sensor != nil {
		if _, _, err := config.Submatrices(); err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// ActiveTemplate returns the explicit template or infers it: a [CE65] section
// means the online monitor, a bare identifier means offline analysis.
// An unrecognized explicit template is reported as TemplateUnknown.
func (c *Config) ActiveTemplate() Template {
	switch {
	case c == nil:
		return TemplateUnknown
	case !c.Template.Known():
		return TemplateUnknown
	case c.Template != TemplateUnknown:
		return c.Template
	case c.Sensor != nil:
		return TemplateMonitor
	case c.Identifier != "":
		return TemplateAnalysis
	}
	return TemplateUnknown
}

// GeometryOrDefault returns the configured geometry, 64x32 without config.
func (c *Config) GeometryOrDefault() parser.Geometry {
	if c == nil || c.Geometry.Validate() != nil {
		return parser.DefaultGeometry()
	}
	return c.Geometry
}

// CalibrationPath is the calibration source for the active template, "" if none.
// The monitor prefers the [CE65] entry, the analysis prefers the top-level key,
// and either one falls back to the other.
func (c *Config) CalibrationPath() string {
	if c == nil {
		return ""
	}
	section := ""
	if c.Sensor != nil {
		section = c.Sensor.CalibrationFile
	}
	if c.ActiveTemplate() == TemplateMonitor && section != "" {
		return section
	}
	if c.CalibrationFile != "" {
		return c.CalibrationFile
	}
	return section
}

// SeedSNR is the monitor-mode multiplier applied to the pixel noise.
func (c *Config) SeedSNR() float64 {
	if c == nil || c.Sensor == nil || c.Sensor.SeedThresholdSNR == 0 {
		return DefaultSeedThresholdSNR
	}
	return c.Sensor.SeedThresholdSNR
}

// Submatrices returns the SimpleCut column edges and thresholds. When
// submatrix_n is set only the first n entries of each list are used.
func (c *Config) Submatrices() (edges, thresholds []int, err error) {
	edges = DefaultSubmatrixEdges
	thresholds = DefaultSubmatrixThresholds
	if c == nil || c.Sensor == nil {
		return clone(edges), clone(thresholds), nil
	}

	s := c.Sensor
	if len(s.SubmatrixEdge) > 0 {
		edges = s.SubmatrixEdge
	}
	if len(s.SubmatrixThreshold) > 0 {
		thresholds = s.SubmatrixThreshold
	}

	n := s.SubmatrixN
	if n == 0 {
		if len(edges) != len(thresholds) {
			return nil, nil, fmt.Errorf("%w: %d edges but %d thresholds", ErrInvalidList, len(edges), len(thresholds))
		}
		n = len(edges)
	}
	if n < 1 || n > len(edges) || n > len(thresholds) {
		return nil, nil, fmt.Errorf("%w: submatrix_n = %d with %d edges and %d thresholds", ErrInvalidList, n, len(edges), len(thresholds))
	}
	return clone(edges[:n]), clone(thresholds[:n]), nil
}

// Applicable reports whether events for this configuration belong to the
// CE65 converter. Without an identifier everything is accepted.
func (c *Config) Applicable() bool {
	if c == nil || c.Identifier == "" {
		return true
	}
	pattern := c.IdentifierPattern
	if pattern == "" {
		pattern = DefaultIdentifierPattern
	}
	return IdentifierMatches(c.Identifier, pattern)
}

// IdentifierMatches reports whether id names a sub-event of this sensor.
func IdentifierMatches(id, pattern string) bool {
	return strings.Contains(id, pattern)
}

func clone(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
