package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads a job file (YAML or JSON) with ${VAR} substitution, fills
// unset credentials from the environment and applies defaults. The result
// is not validated.
func Load(filePath string) (*JobConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, configType(filePath))
}

// Parse decodes job configuration bytes. kind is "yaml" or "json".
func Parse(data []byte, kind string) (*JobConfig, error) {
	content := substituteEnvVars(string(data))

	v := viper.New()
	v.SetConfigType(kind)
	if err := v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", kind, err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// viper lowercases keys; tags are user data so read them verbatim
	var raw struct {
		Tags map[string]interface{} `yaml:"tags"`
	}
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse tags: %w", err)
	}
	if raw.Tags != nil {
		cfg.Tags = raw.Tags
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyEnv fills empty credential fields from environment variables
// (MP_SECRET, MP_TOKEN, AWS_ACCESS_KEY_ID, ...). Values already present in
// the job file win.
func ApplyEnv(cfg *JobConfig) error {
	var fromEnv struct {
		Auth     StorageAuth
		Mixpanel MixpanelConfig
	}
	if err := env.Parse(&fromEnv); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	fillEmpty(&cfg.Auth, &fromEnv.Auth)
	fillEmpty(&cfg.Mixpanel, &fromEnv.Mixpanel)
	return nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *JobConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// fillEmpty copies string and bool fields of src into dst where dst is zero.
func fillEmpty(dst, src interface{}) {
	d := reflect.ValueOf(dst).Elem()
	s := reflect.ValueOf(src).Elem()
	for i := 0; i < d.NumField(); i++ {
		f := d.Field(i)
		if !f.CanSet() || !f.IsZero() {
			continue
		}
		switch f.Kind() {
		case reflect.String, reflect.Bool:
			f.Set(s.Field(i))
		}
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
