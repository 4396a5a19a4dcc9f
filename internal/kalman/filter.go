// Package kalman implements a single-state adaptive recursive estimator used
// to smooth the fused speed.
package kalman

// Defaults for a freshly constructed filter.
const (
	DefaultProcessNoise     = 0.1
	DefaultMeasurementNoise = 0.3
	InitialEstimateError    = 1.0
)

// Filter is a 1-D Kalman filter. Larger process noise tracks new
// measurements faster; larger measurement noise smooths more.
// Not safe for concurrent use.
type Filter struct {
	estimate         float64
	estimateError    float64
	processNoise     float64
	measurementNoise float64
}

// New creates a Filter with the given noise parameters and a zero estimate.
func New(processNoise, measurementNoise float64) *Filter {
	return &Filter{
		estimateError:    InitialEstimateError,
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
	}
}

// NewDefault creates a Filter with DefaultProcessNoise and
// DefaultMeasurementNoise.
func NewDefault() *Filter {
	return New(DefaultProcessNoise, DefaultMeasurementNoise)
}

// Filter folds one measurement into the estimate and returns it.
func (f *Filter) Filter(measurement float64) float64 {
	predictionError := f.estimateError + f.processNoise
	gain := predictionError / (predictionError + f.measurementNoise)
	f.estimate += gain * (measurement - f.estimate)
	f.estimateError = (1 - gain) * predictionError
	return f.estimate
}

// Reset sets the estimate to initial and restores the initial error.
func (f *Filter) Reset(initial float64) {
	f.estimate = initial
	f.estimateError = InitialEstimateError
}

// SetProcessNoise sets q.
func (f *Filter) SetProcessNoise(q float64) { f.processNoise = q }

// SetMeasurementNoise sets r.
func (f *Filter) SetMeasurementNoise(r float64) { f.measurementNoise = r }

// Tune sets both noise parameters.
func (f *Filter) Tune(q, r float64) {
	f.processNoise = q
	f.measurementNoise = r
}

// Estimate returns the current estimate.
func (f *Filter) Estimate() float64 { return f.estimate }

// EstimateError returns the current error covariance.
func (f *Filter) EstimateError() float64 { return f.estimateError }

// ProcessNoise returns q.
func (f *Filter) ProcessNoise() float64 { return f.processNoise }

// MeasurementNoise returns r.
func (f *Filter) MeasurementNoise() float64 { return f.measurementNoise }
