package risk

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

const weightTolerance = 1e-6

// Weights is the immutable weighting applied to the six sub-scores.
type Weights struct {
	Phishing           float64 `yaml:"phishing" json:"phishing"`
	TrainingCompletion float64 `yaml:"training_completion" json:"training_completion"`
	TrainingRecency    float64 `yaml:"training_recency" json:"training_recency"`
	QuizPerformance    float64 `yaml:"quiz_performance" json:"quiz_performance"`
	SecurityIncidents  float64 `yaml:"security_incidents" json:"security_incidents"`
	LoginAnomalies     float64 `yaml:"login_anomalies" json:"login_anomalies"`
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		Phishing:           0.25,
		TrainingCompletion: 0.20,
		TrainingRecency:    0.15,
		QuizPerformance:    0.20,
		SecurityIncidents:  0.15,
		LoginAnomalies:     0.05,
	}
}

func (w Weights) values() []float64 {
	return []float64{w.Phishing, w.TrainingCompletion, w.TrainingRecency, w.QuizPerformance, w.SecurityIncidents, w.LoginAnomalies}
}

// Validate checks that every weight is non-negative and that they sum to 1.
func (w Weights) Validate() error {
	var sum float64
	for _, v := range w.values() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: weight %v out of range", ErrInvalidWeights, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v", ErrInvalidWeights, sum)
	}
	return nil
}

// Overall returns the weighted sum of c rounded to two decimals and clamped to [0,100].
func (w Weights) Overall(c Components) float64 {
	sum := c.Phishing*w.Phishing +
		c.TrainingCompletion*w.TrainingCompletion +
		c.TrainingRecency*w.TrainingRecency +
		c.QuizPerformance*w.QuizPerformance +
		c.SecurityIncidents*w.SecurityIncidents +
		c.LoginAnomalies*w.LoginAnomalies
	return round2(clamp(sum))
}

// LoadWeights reads a YAML weight file. An empty path yields the defaults.
func LoadWeights(path string) (Weights, error) {
	if path == "" {
		return DefaultWeights(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("read weights: %w", err)
	}
	return ParseWeights(data)
}

// ParseWeights decodes a YAML weight document and validates it.
func ParseWeights(data []byte) (Weights, error) {
	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("%w: %v", ErrInvalidWeights, err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
