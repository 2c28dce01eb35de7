package mlserve

import (
	"fmt"
	"net/url"

	"github.com/opst/mlserve/pkg/domain"
	"github.com/opst/mlserve/pkg/ml/dataset"
)

const (
	DefaultPort                = 8080
	DefaultModelName           = "mlserve-housing-regressor"
	DefaultExperiment          = "house-price-predictor-california"
	DefaultTrainingConfig      = "training/config.yaml"
	DefaultMinFeedback         = 10
	DefaultMinImprovementDelta = 0.01
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
// Use Unmarshal to get an error instead.
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

type ConfigMarshall struct {
	Port       int                       `yaml:"port"`
	Database   string                    `yaml:"database"`
	Experiment string                    `yaml:"experiment"`
	Model      *ModelConfigMarshall      `yaml:"model"`
	Training   *TrainingConfigMarshall   `yaml:"training"`
	Retraining *RetrainingConfigMarshall `yaml:"retraining"`
	Artifacts  *ArtifactsConfigMarshall  `yaml:"artifacts"`
	Auth       *AuthConfigMarshall       `yaml:"auth"`
}

var _ Marshalled[*Config] = &ConfigMarshall{}

func (c *ConfigMarshall) trySeal(path string) *Config {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || 65535 < port {
		panic(fmt.Sprintf("%s.port is out of range: %d", path, port))
	}
	experiment := c.Experiment
	if experiment == "" {
		experiment = DefaultExperiment
	}
	return &Config{
		port:       port,
		database:   required(c.Database, path+".database"),
		experiment: experiment,
		model:      orZero(c.Model).trySeal(path + ".model"),
		training:   orZero(c.Training).trySeal(path + ".training"),
		retraining: orZero(c.Retraining).trySeal(path + ".retraining"),
		artifacts:  nonnil(c.Artifacts, path+".artifacts").trySeal(path + ".artifacts"),
		auth:       orZero(c.Auth).trySeal(path + ".auth"),
	}
}

type ModelConfigMarshall struct {
	Name  string `yaml:"name"`
	Alias string `yaml:"alias"`
}

func (m *ModelConfigMarshall) trySeal(string) *ModelConfig {
	conf := &ModelConfig{name: m.Name, alias: m.Alias}
	if conf.name == "" {
		conf.name = DefaultModelName
	}
	if conf.alias == "" {
		conf.alias = domain.ProductionAlias
	}
	return conf
}

type TrainingConfigMarshall struct {
	// path to the training config (YAML).
	Config string `yaml:"config"`

	// path to the base dataset (CSV). When empty, a synthetic dataset is used.
	Dataset string `yaml:"dataset"`

	Seed         *uint64  `yaml:"seed"`
	TestFraction *float64 `yaml:"testFraction"`
}

func (t *TrainingConfigMarshall) trySeal(path string) *TrainingConfig {
	conf := &TrainingConfig{
		config:       t.Config,
		dataset:      t.Dataset,
		seed:         dataset.DefaultSeed,
		testFraction: dataset.DefaultTestFraction,
	}
	if conf.config == "" {
		conf.config = DefaultTrainingConfig
	}
	if t.Seed != nil {
		conf.seed = *t.Seed
	}
	if t.TestFraction != nil {
		conf.testFraction = *t.TestFraction
	}
	if conf.testFraction <= 0 || 1 <= conf.testFraction {
		panic(fmt.Sprintf("%s.testFraction should be in (0, 1): %v", path, conf.testFraction))
	}
	return conf
}

type RetrainingConfigMarshall struct {
	MinFeedback         *int     `yaml:"minFeedback"`
	MinImprovementDelta *float64 `yaml:"minImprovementDelta"`
	PublishDiscarded    *bool    `yaml:"publishDiscarded"`
}

func (r *RetrainingConfigMarshall) trySeal(path string) *RetrainingConfig {
	conf := &RetrainingConfig{
		minFeedback:         DefaultMinFeedback,
		minImprovementDelta: DefaultMinImprovementDelta,
		publishDiscarded:    true,
	}
	if r.MinFeedback != nil {
		conf.minFeedback = *r.MinFeedback
	}
	if conf.minFeedback < 0 {
		panic(fmt.Sprintf("%s.minFeedback should not be negative: %d", path, conf.minFeedback))
	}
	if r.MinImprovementDelta != nil {
		conf.minImprovementDelta = *r.MinImprovementDelta
	}
	if r.PublishDiscarded != nil {
		conf.publishDiscarded = *r.PublishDiscarded
	}
	return conf
}

type ArtifactsConfigMarshall struct {
	// directory where artifacts are stored.
	Filesystem string `yaml:"filesystem"`

	OCI *OCIConfigMarshall `yaml:"oci"`
}

func (a *ArtifactsConfigMarshall) trySeal(path string) *ArtifactsConfig {
	if (a.Filesystem == "") == (a.OCI == nil) {
		panic(path + " should have exactly one of filesystem or oci")
	}
	conf := &ArtifactsConfig{filesystem: a.Filesystem}
	if a.OCI != nil {
		conf.oci = a.OCI.trySeal(path + ".oci")
	}
	return conf
}

type OCIConfigMarshall struct {
	// repository like "registry.example.com/mlserve/artifacts".
	Repository string `yaml:"repository"`

	// use plain HTTP.
	Insecure bool `yaml:"insecure"`
}

func (o *OCIConfigMarshall) trySeal(path string) *OCIConfig {
	return &OCIConfig{
		repository: required(o.Repository, path+".repository"),
		insecure:   o.Insecure,
	}
}

type AuthConfigMarshall struct {
	// HS256 secret for bearer tokens of feedback submission. When empty, feedback is not authenticated.
	FeedbackSecret string `yaml:"feedbackSecret"`

	// base URL which issues tokens, used as "iss" claim. Optional.
	Issuer string `yaml:"issuer"`
}

func (a *AuthConfigMarshall) trySeal(path string) *AuthConfig {
	if a.Issuer != "" {
		if _, err := url.Parse(a.Issuer); err != nil {
			panic(fmt.Sprintf("%s.issuer is not a URL: %s", path, err))
		}
	}
	return &AuthConfig{feedbackSecret: []byte(a.FeedbackSecret), issuer: a.Issuer}
}

func orZero[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}
