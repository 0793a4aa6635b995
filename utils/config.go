package utils

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultRecvMsgSize      = 10 * 1024 * 1024
	DefaultFetchConcurrency = 8
	DefaultMaxAttempts      = 5
	DefaultRetryDelay       = 200 * time.Millisecond
	DefaultShadowThreshold  = 0.1
	DefaultMaxConnections   = 64
)

const (
	ModeLatest    = "latest"
	ModeComposite = "composite"
)

type ServiceConfig struct {
	WorkerNodes        []string `yaml:"worker_nodes"`
	MemcacheAddress    string   `yaml:"memcache_address"`
	MaxGrpcRecvMsgSize int      `yaml:"max_grpc_recv_msg_size"`
	MaxConnections     int      `yaml:"max_connections"`
	FetchConcurrency   int      `yaml:"fetch_concurrency"`
	MaxAttempts        int      `yaml:"max_attempts"`
	// RetryDelay is the base delay of the Fibonacci backoff, e.g. "200ms".
	RetryDelay string `yaml:"retry_delay"`

	retryDelay time.Duration
}

func (s *ServiceConfig) RetryBaseDelay() time.Duration {
	return s.retryDelay
}

// ClassifierConfig toggles the optional clauses of the cloud mask. The
// thresholds of the clauses themselves are fixed.
type ClassifierConfig struct {
	LightClouds     bool     `yaml:"light_clouds"`
	Snow            bool     `yaml:"snow"`
	Shadow          bool     `yaml:"shadow"`
	ShadowThreshold *float64 `yaml:"shadow_threshold"`
}

type Formula struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

type RGBConfig struct {
	Clip float64 `yaml:"clip"`
}

// Product describes one kind of output: which bands are retrieved, how
// scenes are combined and which derived bands are appended.
type Product struct {
	Name          string     `yaml:"name"`
	Mode          string     `yaml:"mode"`
	Bands         []string   `yaml:"bands"`
	ReferenceBand string     `yaml:"reference_band"`
	Scale         float64    `yaml:"scale"`
	CRS           string     `yaml:"crs"`
	Discrete      bool       `yaml:"discrete"`
	Clip          bool       `yaml:"clip"`
	SceneFilter   string     `yaml:"scene_filter"`
	MaxScenes     int        `yaml:"max_scenes"`
	Formulas      []Formula  `yaml:"formulas"`
	RGB           *RGBConfig `yaml:"rgb"`

	Filter *SceneFilter `yaml:"-"`
}

// Config is the engine configuration: service endpoints, classifier
// switches and the list of products that can be generated.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Products   []Product        `yaml:"products"`
}

// FormulaValidator checks a formula at configuration load time. It is set
// by the algebra package user to avoid an import cycle.
type FormulaValidator func(expression string) error

// LoadConfigFile reads a YAML config document, applies defaults and
// validates the products.
func (config *Config) LoadConfigFile(configFile string, validate FormulaValidator) error {
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}
	return config.Load(cfg, validate)
}

func (config *Config) Load(cfg []byte, validate FormulaValidator) error {
	*config = Config{}
	if err := yaml.UnmarshalStrict(cfg, config); err != nil {
		return fmt.Errorf("Error at YAML parsing config document: %v", err)
	}

	svc := &config.Service
	if svc.MaxGrpcRecvMsgSize <= 0 {
		svc.MaxGrpcRecvMsgSize = DefaultRecvMsgSize
	}
	if svc.MaxConnections <= 0 {
		svc.MaxConnections = DefaultMaxConnections
	}
	if svc.FetchConcurrency <= 0 {
		svc.FetchConcurrency = DefaultFetchConcurrency
	}
	if svc.MaxAttempts <= 0 {
		svc.MaxAttempts = DefaultMaxAttempts
	}
	svc.retryDelay = DefaultRetryDelay
	if len(svc.RetryDelay) > 0 {
		d, err := time.ParseDuration(svc.RetryDelay)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid retry_delay %q", svc.RetryDelay)
		}
		svc.retryDelay = d
	}

	if config.Classifier.ShadowThreshold == nil {
		th := DefaultShadowThreshold
		config.Classifier.ShadowThreshold = &th
	}

	seen := map[string]bool{}
	for i := range config.Products {
		p := &config.Products[i]
		if len(p.Name) == 0 {
			return fmt.Errorf("product %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicated product name %s", p.Name)
		}
		seen[p.Name] = true

		if len(p.Mode) == 0 {
			p.Mode = ModeLatest
		}
		if p.Mode != ModeLatest && p.Mode != ModeComposite {
			return fmt.Errorf("product %s: unknown mode %q", p.Name, p.Mode)
		}
		if len(p.Bands) == 0 {
			return fmt.Errorf("product %s: no bands specified", p.Name)
		}
		if p.Scale <= 0 {
			return fmt.Errorf("product %s: scale must be positive", p.Name)
		}
		if len(p.ReferenceBand) == 0 {
			p.ReferenceBand = p.Bands[0]
		}
		if p.RGB != nil && p.RGB.Clip <= 0 {
			return fmt.Errorf("product %s: rgb clip must be positive", p.Name)
		}

		var err error
		p.Filter, err = ParseSceneFilter(p.SceneFilter)
		if err != nil {
			return fmt.Errorf("product %s: %v", p.Name, err)
		}

		for _, f := range p.Formulas {
			if len(f.Name) == 0 {
				return fmt.Errorf("product %s: formula without name", p.Name)
			}
			if validate == nil {
				continue
			}
			if err := validate(f.Expression); err != nil {
				return fmt.Errorf("product %s: formula %s: %v", p.Name, f.Name, err)
			}
		}
	}
	return nil
}

// GetProduct looks up a product by name.
func (config *Config) GetProduct(name string) (*Product, error) {
	for i := range config.Products {
		if config.Products[i].Name == name {
			return &config.Products[i], nil
		}
	}
	return nil, fmt.Errorf("%s not found in config products", name)
}
