package domain

// ModelFamily names a regression algorithm.
type ModelFamily string

const (
	LinearRegressionFamily ModelFamily = "linear_regression"
	RandomForestFamily     ModelFamily = "random_forest"
	GradientBoostingFamily ModelFamily = "gradient_boosting"
)

func (f ModelFamily) String() string {
	return string(f)
}

// Estimator is the regressor part of a TrainingConfig.
//
// It is one of LinearRegression, RandomForest or GradientBoosting.
type Estimator interface {
	Family() ModelFamily
	estimator()
}

type LinearRegression struct {
	FitIntercept bool `yaml:"fit_intercept" json:"fit_intercept"`
}

func DefaultLinearRegression() LinearRegression {
	return LinearRegression{FitIntercept: true}
}

func (LinearRegression) Family() ModelFamily { return LinearRegressionFamily }
func (LinearRegression) estimator()          {}

type RandomForest struct {
	NEstimators     int     `yaml:"n_estimators" json:"n_estimators" validate:"gte=1"`
	MaxDepth        int     `yaml:"max_depth" json:"max_depth" validate:"gte=0"` // 0 = unlimited
	MinSamplesSplit int     `yaml:"min_samples_split" json:"min_samples_split" validate:"gte=2"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf" json:"min_samples_leaf" validate:"gte=1"`
	MaxFeatures     float64 `yaml:"max_features" json:"max_features" validate:"gt=0,lte=1"` // fraction of features per split
	Bootstrap       bool    `yaml:"bootstrap" json:"bootstrap"`
	RandomState     int64   `yaml:"random_state" json:"random_state"`
	NJobs           int     `yaml:"n_jobs" json:"n_jobs" validate:"gte=0"` // 0 = GOMAXPROCS
}

func DefaultRandomForest() RandomForest {
	return RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     1.0,
		Bootstrap:       true,
	}
}

func (RandomForest) Family() ModelFamily { return RandomForestFamily }
func (RandomForest) estimator()          {}

type GradientBoosting struct {
	NEstimators     int     `yaml:"n_estimators" json:"n_estimators" validate:"gte=1"`
	LearningRate    float64 `yaml:"learning_rate" json:"learning_rate" validate:"gt=0"`
	MaxDepth        int     `yaml:"max_depth" json:"max_depth" validate:"gte=1"`
	MinSamplesSplit int     `yaml:"min_samples_split" json:"min_samples_split" validate:"gte=2"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf" json:"min_samples_leaf" validate:"gte=1"`
	Subsample       float64 `yaml:"subsample" json:"subsample" validate:"gt=0,lte=1"`
	RandomState     int64   `yaml:"random_state" json:"random_state"`
}

func DefaultGradientBoosting() GradientBoosting {
	return GradientBoosting{
		NEstimators:     100,
		LearningRate:    0.1,
		MaxDepth:        3,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Subsample:       1.0,
	}
}

func (GradientBoosting) Family() ModelFamily { return GradientBoostingFamily }
func (GradientBoosting) estimator()          {}

// Stage is a preprocessing step. It is one of Standardize or Reduce.
type Stage interface {
	StageName() string
	stage()
}

// Standardize scales each feature to zero mean and unit variance.
type Standardize struct{}

func (Standardize) StageName() string { return "scaler" }
func (Standardize) stage()            {}

// Reduce projects features onto their first principal components.
type Reduce struct {
	Components int
}

func (Reduce) StageName() string { return "pca" }
func (Reduce) stage()            {}

// TrainingConfig declares how to build a pipeline.
//
// Preprocessing stages are applied in order, then Model.
type TrainingConfig struct {
	Model         Estimator
	Preprocessing []Stage

	// YAML document this config is read from.
	Document []byte

	// flattened document, like ".model.params.n_estimators" -> "100".
	Params map[string]string
}
