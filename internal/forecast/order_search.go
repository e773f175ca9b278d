package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// OrderSearchLimits ограничивает перебор порядков SARIMA
type OrderSearchLimits struct {
	MaxP    int
	MaxQ    int
	MaxSP   int
	MaxSQ   int
	MaxD    int
	MaxSD   int
	MaxFits int
}

// DefaultOrderSearchLimits - p,q <= 3; P,Q <= 2; d <= 2; D <= 1
func DefaultOrderSearchLimits() OrderSearchLimits {
	return OrderSearchLimits{MaxP: 3, MaxQ: 3, MaxSP: 2, MaxSQ: 2, MaxD: 2, MaxSD: 1, MaxFits: 100}
}

// OrderSearchResult - лучшая найденная по AIC модель
type OrderSearchResult struct {
	Order         Order
	SeasonalOrder SeasonalOrder
	AIC           float64
	Fits          int
}

// kpssCritical5 - критическое значение KPSS (стационарность уровня, 5%)
const kpssCritical5 = 0.463

// seasonalStrengthThreshold - порог силы сезонности для сезонного дифференцирования
const seasonalStrengthThreshold = 0.64

type stepwiseCandidate struct {
	p, q, sp, sq int
}

// SearchOrders подбирает порядки пошагово (stepwise) по AIC:
// d по тесту KPSS, D по силе сезонности, затем локальный поиск по p,q,P,Q.
func SearchOrders(y []float64, period int, lim OrderSearchLimits) (*OrderSearchResult, error) {
	if len(y) < 3 {
		return nil, fmt.Errorf("%w: %d points", ErrOrderSearch, len(y))
	}
	if period <= 1 {
		period = 1
		lim.MaxSP, lim.MaxSQ, lim.MaxSD = 0, 0, 0
	}
	if lim.MaxFits <= 0 {
		lim.MaxFits = 100
	}

	sd := 0
	if lim.MaxSD > 0 && len(y) >= 2*period && SeasonalStrength(y, period) > seasonalStrengthThreshold {
		sd = 1
	}
	d := EstimateDifferencing(applyPoly(y, differencingPoly(0, sd, period)), lim.MaxD)

	type fitted struct {
		aic float64
		ok  bool
	}
	visited := make(map[stepwiseCandidate]fitted)
	fits := 0

	try := func(c stepwiseCandidate) (float64, bool) {
		if r, seen := visited[c]; seen {
			return r.aic, r.ok
		}
		if fits >= lim.MaxFits {
			return 0, false
		}
		fits++
		m, err := FitSeasonalARIMA(y, Order{P: c.p, D: d, Q: c.q}, SeasonalOrder{P: c.sp, D: sd, Q: c.sq, S: period})
		if err != nil || math.IsNaN(m.AIC) || math.IsInf(m.AIC, 0) {
			visited[c] = fitted{ok: false}
			return 0, false
		}
		visited[c] = fitted{aic: m.AIC, ok: true}
		return m.AIC, true
	}

	clip := func(c stepwiseCandidate) stepwiseCandidate {
		return stepwiseCandidate{
			p:  minInt(c.p, lim.MaxP),
			q:  minInt(c.q, lim.MaxQ),
			sp: minInt(c.sp, lim.MaxSP),
			sq: minInt(c.sq, lim.MaxSQ),
		}
	}

	var best stepwiseCandidate
	bestAIC := math.Inf(1)
	found := false
	for _, c := range []stepwiseCandidate{{2, 2, 1, 1}, {0, 0, 0, 0}, {1, 0, 1, 0}, {0, 1, 0, 1}} {
		c = clip(c)
		if aic, ok := try(c); ok && aic < bestAIC {
			best, bestAIC, found = c, aic, true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no initial model could be fitted", ErrOrderSearch)
	}

	for improved := true; improved && fits < lim.MaxFits; {
		improved = false
		for _, nb := range stepwiseNeighbors(best, lim) {
			if aic, ok := try(nb); ok && aic < bestAIC-1e-9 {
				best, bestAIC = nb, aic
				improved = true
				break
			}
		}
	}

	return &OrderSearchResult{
		Order:         Order{P: best.p, D: d, Q: best.q},
		SeasonalOrder: SeasonalOrder{P: best.sp, D: sd, Q: best.sq, S: period},
		AIC:           bestAIC,
		Fits:          fits,
	}, nil
}

func stepwiseNeighbors(c stepwiseCandidate, lim OrderSearchLimits) []stepwiseCandidate {
	deltas := []stepwiseCandidate{
		{-1, 0, 0, 0}, {1, 0, 0, 0},
		{0, -1, 0, 0}, {0, 1, 0, 0},
		{-1, -1, 0, 0}, {1, 1, 0, 0},
		{0, 0, -1, 0}, {0, 0, 1, 0},
		{0, 0, 0, -1}, {0, 0, 0, 1},
		{0, 0, -1, -1}, {0, 0, 1, 1},
	}
	out := make([]stepwiseCandidate, 0, len(deltas))
	for _, dl := range deltas {
		n := stepwiseCandidate{c.p + dl.p, c.q + dl.q, c.sp + dl.sp, c.sq + dl.sq}
		if n.p < 0 || n.q < 0 || n.sp < 0 || n.sq < 0 {
			continue
		}
		if n.p > lim.MaxP || n.q > lim.MaxQ || n.sp > lim.MaxSP || n.sq > lim.MaxSQ {
			continue
		}
		out = append(out, n)
	}
	return out
}

// EstimateDifferencing возвращает число разностей, после которого KPSS не отвергает стационарность
func EstimateDifferencing(y []float64, maxD int) int {
	d := 0
	x := y
	for d < maxD {
		if len(x) < 3 || KPSSStatistic(x) <= kpssCritical5 {
			break
		}
		x = applyPoly(x, []float64{1, -1})
		d++
	}
	return d
}

// KPSSStatistic - статистика KPSS для стационарности уровня (окно Бартлетта)
func KPSSStatistic(x []float64) float64 {
	n := len(x)
	if n < 2 {
		return 0
	}
	mean := stat.Mean(x, nil)
	e := make([]float64, n)
	for i, v := range x {
		e[i] = v - mean
	}

	partial, eta := 0.0, 0.0
	for _, v := range e {
		partial += v
		eta += partial * partial
	}
	eta /= float64(n) * float64(n)

	lags := int(4 * math.Pow(float64(n)/100, 0.25))
	if lags >= n {
		lags = n - 1
	}
	s2 := 0.0
	for _, v := range e {
		s2 += v * v
	}
	s2 /= float64(n)
	for l := 1; l <= lags; l++ {
		g := 0.0
		for t := l; t < n; t++ {
			g += e[t] * e[t-l]
		}
		g /= float64(n)
		s2 += 2 * (1 - float64(l)/float64(lags+1)) * g
	}
	if s2 <= 1e-12 {
		return 0
	}
	return eta / s2
}

// SeasonalStrength - сила сезонности по классической декомпозиции:
// max(0, 1 - Var(остаток) / Var(ряд без тренда)).
func SeasonalStrength(y []float64, period int) float64 {
	if period <= 1 || len(y) < 2*period {
		return 0
	}
	trend := centeredMovingAverage(y, period)

	detrended := make([]float64, 0, len(y))
	phases := make([]int, 0, len(y))
	for t, v := range trend {
		if math.IsNaN(v) {
			continue
		}
		detrended = append(detrended, y[t]-v)
		phases = append(phases, t%period)
	}
	if len(detrended) < period {
		return 0
	}

	sums := make([]float64, period)
	counts := make([]float64, period)
	for i, v := range detrended {
		sums[phases[i]] += v
		counts[phases[i]]++
	}
	seasonal := make([]float64, period)
	for i := range seasonal {
		if counts[i] > 0 {
			seasonal[i] = sums[i] / counts[i]
		}
	}
	centre := stat.Mean(seasonal, nil)

	remainder := make([]float64, len(detrended))
	for i, v := range detrended {
		remainder[i] = v - (seasonal[phases[i]] - centre)
	}

	varDetrended := stat.Variance(detrended, nil)
	if varDetrended <= 1e-12 {
		return 0
	}
	return math.Max(0, 1-stat.Variance(remainder, nil)/varDetrended)
}

// centeredMovingAverage - центрированное скользящее среднее длины period (2xMA для четного)
func centeredMovingAverage(y []float64, period int) []float64 {
	out := make([]float64, len(y))
	half := period / 2
	for t := range y {
		if t-half < 0 || t+half >= len(y) {
			out[t] = math.NaN()
			continue
		}
		sum := 0.0
		if period%2 == 1 {
			for i := t - half; i <= t+half; i++ {
				sum += y[i]
			}
			out[t] = sum / float64(period)
			continue
		}
		for i := t - half; i <= t+half; i++ {
			w := 1.0
			if i == t-half || i == t+half {
				w = 0.5
			}
			sum += w * y[i]
		}
		out[t] = sum / float64(period)
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
