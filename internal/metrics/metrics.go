// Package metrics computes Sharpe, PSR, and DSR over a sequence of
// per-step bps returns, following spec §4.9's formulas verbatim — including
// the PSR denominator's raw (not excess) kurtosis term, preserved
// deliberately for bit-identical numeric output with the reference this
// system was distilled from (see DESIGN.md's Open Question decisions).
package metrics

import (
	"math"

	"github.com/rishav/evlog-backtester/internal/bterrors"
)

// Moments holds the mean and the biased population second/third/fourth
// central moments of a return series.
type Moments struct {
	Mean       float64
	M2, M3, M4 float64
	N          int
}

// ComputeMoments computes the mean and biased population moments
// m_k = sum((x-mean)^k) / n for returns (expressed as float64 bps values).
func ComputeMoments(returns []float64) Moments {
	n := len(returns)
	var mom Moments
	mom.N = n
	if n == 0 {
		return mom
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)
	mom.Mean = mean

	var m2, m3, m4 float64
	for _, r := range returns {
		d := r - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	mom.M2 = m2 / float64(n)
	mom.M3 = m3 / float64(n)
	mom.M4 = m4 / float64(n)
	return mom
}

// SampleStdDev returns sigma using the n-1 (sample) denominator.
func (m Moments) SampleStdDev() float64 {
	if m.N < 2 {
		return 0
	}
	// m.M2 is the biased (population, /n) second moment; convert to the
	// sample variance (/n-1) before taking the square root.
	sampleVar := m.M2 * float64(m.N) / float64(m.N-1)
	return math.Sqrt(sampleVar)
}

// Skewness returns m3 / m2^1.5, or 0 if m2 is zero.
func (m Moments) Skewness() float64 {
	if m.M2 == 0 {
		return 0
	}
	return m.M3 / math.Pow(m.M2, 1.5)
}

// Kurtosis returns the RAW (not excess) fourth standardized moment
// m4 / m2^2, per spec §4.9's explicit note that this is not excess
// kurtosis despite being combined as if it were in the PSR formula.
func (m Moments) Kurtosis() float64 {
	if m.M2 == 0 {
		return 0
	}
	return m.M4 / (m.M2 * m.M2)
}

// Sharpe computes mean/sigma_sample over returns, defined to be 0 if
// variance is zero. Requires n >= 2.
func Sharpe(returns []float64) (float64, error) {
	if len(returns) < 2 {
		return 0, bterrors.New(bterrors.KindSchema, "Sharpe requires at least 2 returns, got %d", len(returns))
	}
	mom := ComputeMoments(returns)
	sigma := mom.SampleStdDev()
	if sigma == 0 {
		return 0, nil
	}
	return mom.Mean / sigma, nil
}

// phi is the standard normal CDF, via the error function.
func phi(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// PSR computes the probabilistic Sharpe ratio against srBenchmark. Requires
// n >= 3. Returns a schema error if the denominator argument is not
// strictly positive, per spec §4.9.
func PSR(returns []float64, srBenchmark float64) (float64, error) {
	if len(returns) < 3 {
		return 0, bterrors.New(bterrors.KindSchema, "PSR requires at least 3 returns, got %d", len(returns))
	}
	mom := ComputeMoments(returns)
	sigma := mom.SampleStdDev()
	var sr float64
	if sigma != 0 {
		sr = mom.Mean / sigma
	}
	skew := mom.Skewness()
	kurt := mom.Kurtosis()
	n := float64(len(returns))

	denomArg := 1 - skew*sr + ((kurt-1)/4)*sr*sr
	if denomArg <= 0 {
		return 0, bterrors.New(bterrors.KindSchema, "PSR denominator argument must be > 0, got %g", denomArg)
	}
	denom := math.Sqrt(denomArg)

	z := (sr - srBenchmark) * math.Sqrt(n-1) / denom
	return phi(z), nil
}

// DSR computes the deflated Sharpe ratio against srBenchmark and nTrials.
// Requires n >= 3 and nTrials >= 1.
func DSR(returns []float64, srBenchmark float64, nTrials int) (float64, error) {
	if len(returns) < 3 {
		return 0, bterrors.New(bterrors.KindSchema, "DSR requires at least 3 returns, got %d", len(returns))
	}
	if nTrials < 1 {
		return 0, bterrors.New(bterrors.KindSchema, "dsr_trials must be >= 1, got %d", nTrials)
	}

	mom := ComputeMoments(returns)
	sigma := mom.SampleStdDev()
	var sr float64
	if sigma != 0 {
		sr = mom.Mean / sigma
	}
	skew := mom.Skewness()
	kurt := mom.Kurtosis()
	n := float64(len(returns))

	denomArg := 1 - skew*sr + ((kurt-1)/4)*sr*sr
	if denomArg <= 0 {
		return 0, bterrors.New(bterrors.KindSchema, "DSR denominator argument must be > 0, got %g", denomArg)
	}
	denom := math.Sqrt(denomArg)

	srStar := srBenchmark
	if nTrials != 1 {
		srStar = srBenchmark + invNormalCDF(1-1/float64(nTrials))*denom/math.Sqrt(n-1)
	}

	z := (sr - srStar) * math.Sqrt(n-1) / denom
	return phi(z), nil
}
