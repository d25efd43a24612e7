package algoprox

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// StepsizeVariant selects the PDHG step size scheme.
type StepsizeVariant int

const (
	// StepsAlg1 keeps tau, sigma and theta = 1 constant.
	StepsAlg1 StepsizeVariant = iota + 1
	// StepsAlg2 accelerates for strongly convex g with parameter Alg2Gamma.
	StepsAlg2
	// StepsResidualGoldstein balances primal and dual residuals with a
	// decaying factor (Goldstein, Esser, Baraniuk).
	StepsResidualGoldstein
	// StepsResidualBoyd balances residuals with hysteresis counters
	// (Fougner, Boyd).
	StepsResidualBoyd
)

var variantNames = map[StepsizeVariant]string{
	StepsAlg1:              "alg1",
	StepsAlg2:              "alg2",
	StepsResidualGoldstein: "goldstein",
	StepsResidualBoyd:      "boyd",
}

func (v StepsizeVariant) String() string {
	if s, ok := variantNames[v]; ok {
		return s
	}
	return fmt.Sprintf("StepsizeVariant(%d)", int(v))
}

func (v StepsizeVariant) valid() bool {
	_, ok := variantNames[v]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (v StepsizeVariant) MarshalText() ([]byte, error) {
	if !v.valid() {
		return nil, fmt.Errorf("%w: stepsize variant %d", ErrInvalidOptions, int(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *StepsizeVariant) UnmarshalText(text []byte) error {
	for k, name := range variantNames {
		if name == string(text) {
			*v = k
			return nil
		}
	}
	return fmt.Errorf("%w: unknown stepsize variant %q", ErrInvalidOptions, text)
}

// PDHGOptions configures the primal-dual hybrid gradient backend.
type PDHGOptions struct {
	// Tau0 and Sigma0 are the initial primal and dual step sizes.
	Tau0   float64 `yaml:"tau0" validate:"gt=0"`
	Sigma0 float64 `yaml:"sigma0" validate:"gt=0"`

	// ResidualIter is the number of iterations between residual checks.
	ResidualIter int `yaml:"residual_iter" validate:"gte=1"`

	// ScaleStepsOperator rescales the initial steps so that
	// tau*sigma*|K|^2 = 1 while keeping tau0/sigma0.
	ScaleStepsOperator bool `yaml:"scale_steps_operator"`

	// Alg2Gamma is the strong convexity parameter of StepsAlg2.
	Alg2Gamma float64 `yaml:"alg2_gamma" validate:"gte=0"`

	// Residual balancing parameters.
	ArgAlpha0 float64 `yaml:"arg_alpha0" validate:"gt=0,lt=1"`
	ArgNu     float64 `yaml:"arg_nu" validate:"gt=0,lte=1"`
	ArgDelta  float64 `yaml:"arg_delta" validate:"gte=1"`

	// Residual converging parameters.
	ArbDelta float64 `yaml:"arb_delta" validate:"gt=1"`
	ArbTau   float64 `yaml:"arb_tau" validate:"gt=0,lt=1"`

	Variant StepsizeVariant `yaml:"stepsize_variant"`
}

// DefaultPDHGOptions returns the options used when nothing is configured.
func DefaultPDHGOptions() PDHGOptions {
	return PDHGOptions{
		Tau0:               1,
		Sigma0:             1,
		ResidualIter:       1,
		ScaleStepsOperator: true,
		Alg2Gamma:          0,
		ArgAlpha0:          0.5,
		ArgNu:              0.95,
		ArgDelta:           1.5,
		ArbDelta:           1.05,
		ArbTau:             0.8,
		Variant:            StepsResidualBoyd,
	}
}

// Validate reports the first out-of-range field.
func (o PDHGOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if !o.Variant.valid() {
		return fmt.Errorf("%w: stepsize variant %d", ErrInvalidOptions, int(o.Variant))
	}
	if o.Variant == StepsAlg2 && o.Alg2Gamma == 0 {
		return fmt.Errorf("%w: alg2 needs alg2_gamma > 0", ErrInvalidOptions)
	}
	return nil
}

// ADMMOptions configures the ADMM backend.
type ADMMOptions struct {
	// Rho0 is the initial penalty parameter.
	Rho0 float64 `yaml:"rho0" validate:"gt=0"`

	// Alpha is the over-relaxation factor.
	Alpha float64 `yaml:"alpha" validate:"gt=0,lt=2"`

	// The CG tolerance at iteration k is CGTolMax/(k+1)^CGTolPow clamped
	// to [CGTolMin, CGTolMax].
	CGTolPow  float64 `yaml:"cg_tol_pow" validate:"gte=0"`
	CGTolMin  float64 `yaml:"cg_tol_min" validate:"gt=0"`
	CGTolMax  float64 `yaml:"cg_tol_max" validate:"gtefield=CGTolMin"`
	CGMaxIter int     `yaml:"cg_max_iter" validate:"gte=1"`

	// ResidualIter is the number of iterations between residual checks.
	ResidualIter int `yaml:"residual_iter" validate:"gte=1"`

	// Residual converging parameters.
	ArbDelta float64 `yaml:"arb_delta" validate:"gt=1"`
	ArbTau   float64 `yaml:"arb_tau" validate:"gt=0,lt=1"`
	ArbGamma float64 `yaml:"arb_gamma" validate:"gte=1"`
}

// DefaultADMMOptions returns the options used when nothing is configured.
func DefaultADMMOptions() ADMMOptions {
	return ADMMOptions{
		Rho0:         1,
		Alpha:        1.7,
		CGTolPow:     1.5,
		CGTolMin:     1e-10,
		CGTolMax:     1e-3,
		CGMaxIter:    10,
		ResidualIter: 1,
		ArbDelta:     1.05,
		ArbTau:       0.8,
		ArbGamma:     1.01,
	}
}

// Validate reports the first out-of-range field.
func (o ADMMOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}
