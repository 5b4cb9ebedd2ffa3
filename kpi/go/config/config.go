// Package config defines the on-disk shape a host program supplies a
// payload with: the CockroachDB connection string, schema name,
// keep-alive duration, and the schedule/granularity declarations the
// controller drives. Grounded on perf/go/config/config.go's JSON-tagged
// struct style and on golden/go/config/config.go's human-readable
// Duration string, kept to stdlib encoding/json (see DESIGN.md) plus an
// optional YAML loading path.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"go.kpiflow.build/go/skerr"
	"go.kpiflow.build/kpi/go/payload"
)

// Duration allows a config file to supply a duration as a human
// readable string ("5m", "1h30m") rather than a raw nanosecond count.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ScheduleConfig is the on-disk shape of one payload.Schedule. Exactly
// one of BacktrackDuration/BacktrackCheckpoint should be set;
// BacktrackCheckpoint set to true selects payload.BacktrackCheckpoint{}
// and takes precedence over a non-zero BacktrackDuration.
type ScheduleConfig struct {
	Name               string    `json:"name" yaml:"name"`
	Freq               Duration  `json:"freq" yaml:"freq"`
	RoundHour          *int      `json:"round_hour,omitempty" yaml:"round_hour,omitempty"`
	RoundMin           *int      `json:"round_min,omitempty" yaml:"round_min,omitempty"`
	BacktrackDuration  *Duration `json:"backtrack_duration,omitempty" yaml:"backtrack_duration,omitempty"`
	BacktrackCheckpoint bool     `json:"backtrack_checkpoint,omitempty" yaml:"backtrack_checkpoint,omitempty"`
}

// Schedule converts this declaration into the payload.Schedule the
// controller consumes.
func (c ScheduleConfig) Schedule() payload.Schedule {
	s := payload.Schedule{
		Name:      c.Name,
		Freq:      time.Duration(c.Freq),
		RoundHour: c.RoundHour,
		RoundMin:  c.RoundMin,
		Backtrack: payload.BacktrackNone{},
	}
	switch {
	case c.BacktrackCheckpoint:
		s.Backtrack = payload.BacktrackCheckpoint{}
	case c.BacktrackDuration != nil:
		s.Backtrack = payload.BacktrackDuration(*c.BacktrackDuration)
	}
	return s
}

// GranularityConfig is the on-disk shape of one payload.Granularity.
type GranularityConfig struct {
	Name       string   `json:"name" yaml:"name"`
	Grouper    []string `json:"grouper,omitempty" yaml:"grouper,omitempty"`
	EntityID   string   `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Freq       string   `json:"freq,omitempty" yaml:"freq,omitempty"`
	Dimensions []string `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// Granularity converts this declaration into the payload.Granularity
// the controller consumes.
func (c GranularityConfig) Granularity() payload.Granularity {
	return payload.Granularity{
		Name:       c.Name,
		Grouper:    c.Grouper,
		EntityID:   c.EntityID,
		Freq:       c.Freq,
		Dimensions: c.Dimensions,
	}
}

// DataItemConfig is the on-disk shape of one payload.DataItemMetadata,
// keyed by the JSON/YAML map's own field name in PayloadConfig.
type DataItemConfig struct {
	ColumnType      string `json:"column_type" yaml:"column_type"`
	Transient       bool   `json:"transient,omitempty" yaml:"transient,omitempty"`
	SourceTableName string `json:"source_table_name,omitempty" yaml:"source_table_name,omitempty"`
}

// DataItemMetadata converts this declaration into the
// payload.DataItemMetadata the dbwriter and jobspec packages consume.
func (c DataItemConfig) DataItemMetadata() payload.DataItemMetadata {
	return payload.DataItemMetadata{
		ColumnType:      payload.ColumnType(c.ColumnType),
		Transient:       c.Transient,
		SourceTableName: c.SourceTableName,
	}
}

// PayloadConfig is the full on-disk configuration a host program loads
// and uses to build a *payload.Payload before handing it to
// kpi/go/controller.
type PayloadConfig struct {
	// Name identifies the payload in job log records and run logs.
	Name string `json:"name" yaml:"name"`

	// ConnectionString is a CockroachDB "postgres://..." connection
	// string, passed to pgxpool.Connect.
	ConnectionString string `json:"connection_string" yaml:"connection_string"`

	// Schema names the database schema the joblog and dbwriter tables
	// live under.
	Schema string `json:"schema" yaml:"schema"`

	// KeepAlive bounds how long kpi/go/kpid's controller.Run call runs
	// before returning, so the process can be restarted on a schedule
	// by an external supervisor rather than running forever.
	KeepAlive Duration `json:"keep_alive" yaml:"keep_alive"`

	// ChunkSize is the payload's chunking window, passed through to
	// payload.Payload.ChunkSize.
	ChunkSize Duration `json:"chunk_size" yaml:"chunk_size"`

	// IsScheduleProgressive enables progressive subsumption across this
	// payload's schedules (spec.md §4.1).
	IsScheduleProgressive bool `json:"is_schedule_progressive,omitempty" yaml:"is_schedule_progressive,omitempty"`

	Schedules     []ScheduleConfig          `json:"schedules" yaml:"schedules"`
	Granularities []GranularityConfig       `json:"granularities,omitempty" yaml:"granularities,omitempty"`
	DataItems     map[string]DataItemConfig `json:"data_items,omitempty" yaml:"data_items,omitempty"`
}

// SchedulesMap converts Schedules into the map keyed by name that
// payload.Payload.Schedules expects.
func (c *PayloadConfig) SchedulesMap() map[string]payload.Schedule {
	out := make(map[string]payload.Schedule, len(c.Schedules))
	for _, s := range c.Schedules {
		out[s.Name] = s.Schedule()
	}
	return out
}

// GranularitiesMap converts Granularities into the map keyed by name
// that payload.Payload.Granularities expects.
func (c *PayloadConfig) GranularitiesMap() map[string]payload.Granularity {
	out := make(map[string]payload.Granularity, len(c.Granularities))
	for _, g := range c.Granularities {
		out[g.Name] = g.Granularity()
	}
	return out
}

// DataItemsMap converts DataItems into the map payload.Payload.DataItems
// expects.
func (c *PayloadConfig) DataItemsMap() map[string]payload.DataItemMetadata {
	out := make(map[string]payload.DataItemMetadata, len(c.DataItems))
	for name, item := range c.DataItems {
		out[name] = item.DataItemMetadata()
	}
	return out
}

// LoadJSON reads and decodes a PayloadConfig from a JSON file at path.
func LoadJSON(path string) (*PayloadConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer f.Close()

	var cfg PayloadConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, skerr.Wrapf(err, "decoding JSON config %s", path)
	}
	return &cfg, nil
}

// LoadYAML reads and decodes a PayloadConfig from a YAML file at path,
// for deployments that prefer YAML over JSON for their config files.
func LoadYAML(path string) (*PayloadConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	var cfg PayloadConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, skerr.Wrapf(err, "decoding YAML config %s", path)
	}
	return &cfg, nil
}
