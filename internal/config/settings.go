package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/template"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/okets/folder-mcp/internal/errs"
)

// Duration wraps time.Duration so configuration files can express it as a
// string ("500ms", "30s") rather than a raw nanosecond count.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or a plain integer number
// of nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!int" {
		var nanos int64
		if err := node.Decode(&nanos); err != nil {
			return fmt.Errorf("invalid duration %q: %w", node.Value, err)
		}
		*d = Duration(nanos)
		return nil
	}

	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var nanos int64
	if err := node.Decode(&nanos); err != nil {
		return fmt.Errorf("duration must be a string (e.g. \"30s\") or an integer number of nanoseconds")
	}
	*d = Duration(nanos)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// FolderSettings describes one folder to manage, as listed under the
// top-level "folders" configuration key.
type FolderSettings struct {
	Path       string   `yaml:"path"`
	Model      string   `yaml:"model"`
	Ignore     []string `yaml:"ignore"`
	Extensions []string `yaml:"extensions"`
}

// ProcessingSettings controls the Indexing Pipeline (§4.D).
type ProcessingSettings struct {
	BatchSize               int `yaml:"batchSize"`
	MaxConcurrentOperations int `yaml:"maxConcurrentOperations"`
	ChunkSize               int `yaml:"chunkSize"`
	Overlap                 int `yaml:"overlap"`
}

// ModelRegistrySettings controls the Model Registry (§4.C).
type ModelRegistrySettings struct {
	Capacity int `yaml:"capacity"`
}

// AutoRestartSettings controls the Process Supervisor's restart policy (§4.J).
type AutoRestartSettings struct {
	Enabled            bool     `yaml:"enabled"`
	MaxRetries         int      `yaml:"maxRetries"`
	Delay              Duration `yaml:"delay"`
	MaxDelay           Duration `yaml:"maxDelay"`
	ExponentialBackoff bool     `yaml:"exponentialBackoff"`
}

// WatcherSettings controls the Configuration Watcher (§4.L).
type WatcherSettings struct {
	DebounceDelay Duration `yaml:"debounceDelay"`
	UsePolling    bool     `yaml:"usePolling"`
	Interval      Duration `yaml:"interval"`
}

// Settings is the fully merged, validated configuration surface (§6).
type Settings struct {
	Folders         []FolderSettings      `yaml:"folders"`
	Processing      ProcessingSettings    `yaml:"processing"`
	ModelRegistry   ModelRegistrySettings `yaml:"modelRegistry"`
	AutoRestart     AutoRestartSettings   `yaml:"autoRestart"`
	ShutdownTimeout Duration              `yaml:"shutdownTimeout"`
	ShutdownSignal  string                `yaml:"shutdownSignal"`
	ReloadSignal    string                `yaml:"reloadSignal"`
	Watcher         WatcherSettings       `yaml:"watcher"`
}

// Defaults returns the configuration surface's built-in defaults, the
// lowest-precedence tier.
func Defaults() Settings {
	return Settings{
		Processing: ProcessingSettings{
			BatchSize:               16,
			MaxConcurrentOperations: 3,
			ChunkSize:               500,
			Overlap:                 50,
		},
		ModelRegistry: ModelRegistrySettings{Capacity: 3},
		AutoRestart: AutoRestartSettings{
			Enabled:            true,
			MaxRetries:         5,
			Delay:              Duration(time.Second),
			MaxDelay:           Duration(30 * time.Second),
			ExponentialBackoff: true,
		},
		ShutdownTimeout: Duration(10 * time.Second),
		ShutdownSignal:  "SIGTERM",
		ReloadSignal:    "SIGHUP",
		Watcher: WatcherSettings{
			DebounceDelay: Duration(500 * time.Millisecond),
			UsePolling:    false,
			Interval:      Duration(2 * time.Second),
		},
	}
}

// Load merges the three configuration tiers named in spec §6, highest
// precedence last: the built-in defaults, a YAML user config file at
// configPath (if it exists), and runtime overrides (an optional ".env" file
// at envPath plus the process environment, both usable as interpolation
// targets for "${VAR}" references inside the YAML file).
func Load(configPath, envPath string) (Settings, error) {
	settings := Defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return Settings{}, errs.Wrap(errs.KindConfiguration, "CONFIG_READ_FAILED", err, fmt.Sprintf("unable to read configuration file %q", configPath))
	}

	mapping, err := loadMapping(envPath)
	if err != nil {
		return Settings{}, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Settings{}, errs.Wrap(errs.KindConfiguration, "CONFIG_PARSE_FAILED", err, "configuration file is not valid YAML")
	}
	if len(root.Content) == 0 {
		return settings, nil
	}
	if err := interpolate(root.Content[0], mapping); err != nil {
		return Settings{}, errs.Wrap(errs.KindConfiguration, "CONFIG_INTERPOLATE_FAILED", err, "unable to interpolate configuration variables")
	}

	if err := decodeStrict(root.Content[0], &settings); err != nil {
		return Settings{}, err
	}

	if err := validate(settings); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

// loadMapping builds the interpolation mapping from an optional ".env" file
// (interpolated itself by godotenv) overlaid with the process environment,
// the process environment taking precedence, per spec §6's "runtime
// overrides > user config > defaults" rule applied to variable resolution.
func loadMapping(envPath string) (template.Mapping, error) {
	env, err := godotenv.Read(envPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.KindConfiguration, "ENV_READ_FAILED", err, fmt.Sprintf("unable to read environment file %q", envPath))
	}
	if env == nil {
		env = make(map[string]string)
	}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}, nil
}

// interpolate performs recursive "${VAR}" interpolation on a raw YAML
// hierarchy, scalar values only.
func interpolate(node *yaml.Node, mapping template.Mapping) error {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			if err := interpolate(child, mapping); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		if len(node.Content)%2 != 0 {
			return fmt.Errorf("mapping node with unbalanced key/value count")
		}
		for i := 1; i < len(node.Content); i += 2 {
			if err := interpolate(node.Content[i], mapping); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		substituted, err := template.Substitute(node.Value, mapping)
		if err != nil {
			return fmt.Errorf("unable to interpolate value %q: %w", node.Value, err)
		}
		node.Value = substituted
	case yaml.AliasNode:
	}
	return nil
}

// decodeStrict decodes node into settings, rejecting unrecognized keys so
// that a typo in the configuration file surfaces as a clear error naming
// the offending key rather than being silently ignored.
func decodeStrict(node *yaml.Node, settings *Settings) error {
	wrapped := yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{node}}
	encoded, err := yaml.Marshal(&wrapped)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "CONFIG_REENCODE_FAILED", err, "unable to re-encode configuration for strict decoding")
	}

	decoder := yaml.NewDecoder(bytes.NewReader(encoded))
	decoder.KnownFields(true)
	if err := decoder.Decode(settings); err != nil {
		return errs.Wrap(errs.KindConfiguration, "CONFIG_UNKNOWN_KEY", err, "configuration file contains an unrecognized key")
	}
	return nil
}

// validate range-checks the numeric keys named in spec §6.
func validate(s Settings) error {
	if s.Processing.ChunkSize < 200 || s.Processing.ChunkSize > 1000 {
		return errs.New(errs.KindConfiguration, "CHUNK_SIZE_OUT_OF_RANGE",
			fmt.Sprintf("invalid chunk size %d (must be 200-1000)", s.Processing.ChunkSize))
	}
	if s.Processing.BatchSize < 1 || s.Processing.BatchSize > 128 {
		return errs.New(errs.KindConfiguration, "BATCH_SIZE_OUT_OF_RANGE",
			fmt.Sprintf("invalid batch size %d (must be 1-128)", s.Processing.BatchSize))
	}
	if s.Processing.MaxConcurrentOperations < 1 || s.Processing.MaxConcurrentOperations > 16 {
		return errs.New(errs.KindConfiguration, "WORKER_COUNT_OUT_OF_RANGE",
			fmt.Sprintf("invalid worker count %d (must be 1-16)", s.Processing.MaxConcurrentOperations))
	}
	if s.ModelRegistry.Capacity < 1 {
		return errs.New(errs.KindConfiguration, "MODEL_CAPACITY_OUT_OF_RANGE",
			fmt.Sprintf("invalid model registry capacity %d (must be >= 1)", s.ModelRegistry.Capacity))
	}
	for _, folder := range s.Folders {
		if folder.Path == "" {
			return errs.New(errs.KindConfiguration, "FOLDER_PATH_REQUIRED", "folder entry is missing a path")
		}
	}
	return nil
}
