package mlserve

// Config of mlserve daemons.
//
// To get Config instance, use Unmarshal, Load or TrySeal.
type Config struct {
	port       int
	database   string
	experiment string
	model      *ModelConfig
	training   *TrainingConfig
	retraining *RetrainingConfig
	artifacts  *ArtifactsConfig
	auth       *AuthConfig
}

// port where the API server listens.
func (c *Config) Port() int {
	return c.port
}

// connection string of PostgreSQL.
func (c *Config) Database() string {
	return c.database
}

// name of the experiment where runs are recorded.
func (c *Config) Experiment() string {
	return c.experiment
}

func (c *Config) Model() *ModelConfig {
	return c.model
}

func (c *Config) Training() *TrainingConfig {
	return c.training
}

func (c *Config) Retraining() *RetrainingConfig {
	return c.retraining
}

func (c *Config) Artifacts() *ArtifactsConfig {
	return c.artifacts
}

func (c *Config) Auth() *AuthConfig {
	return c.auth
}

type ModelConfig struct {
	name  string
	alias string
}

// registered model name.
func (m *ModelConfig) Name() string {
	return m.name
}

// alias of the serving model. default = "production"
func (m *ModelConfig) Alias() string {
	return m.alias
}

type TrainingConfig struct {
	config       string
	dataset      string
	seed         uint64
	testFraction float64
}

func (t *TrainingConfig) Config() string {
	return t.config
}

// path to the base dataset. Empty means synthetic one.
func (t *TrainingConfig) Dataset() string {
	return t.dataset
}

func (t *TrainingConfig) Seed() uint64 {
	return t.seed
}

func (t *TrainingConfig) TestFraction() float64 {
	return t.testFraction
}

type RetrainingConfig struct {
	minFeedback         int
	minImprovementDelta float64
	publishDiscarded    bool
}

func (r *RetrainingConfig) MinFeedback() int {
	return r.minFeedback
}

func (r *RetrainingConfig) MinImprovementDelta() float64 {
	return r.minImprovementDelta
}

func (r *RetrainingConfig) PublishDiscarded() bool {
	return r.publishDiscarded
}

// ArtifactsConfig has either one of Filesystem or OCI.
type ArtifactsConfig struct {
	filesystem string
	oci        *OCIConfig
}

// root directory of artifacts. Empty if OCI is used.
func (a *ArtifactsConfig) Filesystem() string {
	return a.filesystem
}

// nil if Filesystem is used.
func (a *ArtifactsConfig) OCI() *OCIConfig {
	return a.oci
}

type OCIConfig struct {
	repository string
	insecure   bool
}

func (o *OCIConfig) Repository() string {
	return o.repository
}

func (o *OCIConfig) Insecure() bool {
	return o.insecure
}

type AuthConfig struct {
	feedbackSecret []byte
	issuer         string
}

// secret for HS256. Empty means authentication is disabled.
func (a *AuthConfig) FeedbackSecret() []byte {
	return a.feedbackSecret
}

func (a *AuthConfig) Issuer() string {
	return a.issuer
}
