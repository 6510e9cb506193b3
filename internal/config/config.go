package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"procline/internal/workflow"
)

// Config models procline.yml.
type Config struct {
	Workspace struct {
		Name string `yaml:"name" json:"name" jsonschema:"description=Display name of the workspace"`
	} `yaml:"workspace" json:"workspace"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr" jsonschema:"description=Listen address for pl serve"`
		BasePath string `yaml:"base_path" json:"base_path" jsonschema:"description=Path prefix of every API route,pattern=^/"`
	} `yaml:"server" json:"server"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header" jsonschema:"description=Accept X-Actor-Id when no bearer token is sent"`
	} `yaml:"auth" json:"auth"`
	Cascade struct {
		FollowDossierDependents bool `yaml:"follow_dossier_dependents" json:"follow_dossier_dependents" jsonschema:"description=Recalculate dossier fields that reference a changed field"`
	} `yaml:"cascade" json:"cascade"`
	Fields struct {
		AllowedTypes []string `yaml:"allowed_types" json:"allowed_types" jsonschema:"description=Field types that may be added,enum=text,enum=long_text,enum=file,enum=file_list,enum=task,enum=task_list,enum=dossier"`
	} `yaml:"fields" json:"fields"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.Name == "" {
		return fmt.Errorf("config.workspace.name is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if len(c.Fields.AllowedTypes) == 0 {
		return fmt.Errorf("config.fields.allowed_types is required")
	}
	for _, t := range c.Fields.AllowedTypes {
		if !workflow.FieldType(t).Valid() {
			return fmt.Errorf("config.fields.allowed_types has unknown type %q", t)
		}
	}
	return nil
}

// AllowsFieldType reports whether fields of type t may be created.
func (c *Config) AllowsFieldType(t workflow.FieldType) bool {
	for _, allowed := range c.Fields.AllowedTypes {
		if workflow.FieldType(allowed) == t {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "procline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(name))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("default")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Schema returns the JSON Schema of procline.yml.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{FieldNameTag: "yaml", ExpandedStruct: true}
	s := r.Reflect(&Config{})
	s.Title = "procline.yml"
	return json.MarshalIndent(s, "", "  ")
}

const defaultTemplate = `workspace:
  name: %s

server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  allow_legacy_actor_header: true

cascade:
  follow_dossier_dependents: true

fields:
  allowed_types: [text, long_text, file, file_list, task, task_list, dossier]
`
