package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Order - несезонный порядок (p,d,q)
type Order struct {
	P int `json:"p"`
	D int `json:"d"`
	Q int `json:"q"`
}

// Tuple возвращает порядок в виде [p,d,q]
func (o Order) Tuple() []int {
	return []int{o.P, o.D, o.Q}
}

// SeasonalOrder - сезонный порядок (P,D,Q,s)
type SeasonalOrder struct {
	P int `json:"P"`
	D int `json:"D"`
	Q int `json:"Q"`
	S int `json:"s"`
}

// Tuple возвращает порядок в виде [P,D,Q,s]
func (o SeasonalOrder) Tuple() []int {
	return []int{o.P, o.D, o.Q, o.S}
}

// SeasonalARIMAModel - обученная модель SARIMA(p,d,q)x(P,D,Q,s).
// Хранит обучающий ряд, поэтому прогноз на несколько шагов строится без внешнего состояния.
type SeasonalARIMAModel struct {
	Order         Order         `json:"order"`
	SeasonalOrder SeasonalOrder `json:"seasonal_order"`
	AR            []float64     `json:"ar"`
	MA            []float64     `json:"ma"`
	SeasonalAR    []float64     `json:"seasonal_ar"`
	SeasonalMA    []float64     `json:"seasonal_ma"`
	Intercept     float64       `json:"intercept"`
	Sigma2        float64       `json:"sigma2"`
	AIC           float64       `json:"aic"`
	Series        []float64     `json:"series"`
}

// Максимальное число вычислений целевой функции в Nelder-Mead
const arimaMaxEvaluations = 4000

// FitSeasonalARIMA оценивает параметры методом условной суммы квадратов (CSS).
// Ограничения стационарности и обратимости не накладываются.
func FitSeasonalARIMA(y []float64, order Order, seasonal SeasonalOrder) (*SeasonalARIMAModel, error) {
	if order.P < 0 || order.D < 0 || order.Q < 0 || seasonal.P < 0 || seasonal.D < 0 || seasonal.Q < 0 {
		return nil, fmt.Errorf("negative order %v x %v", order.Tuple(), seasonal.Tuple())
	}
	s := seasonal.S
	if s <= 1 {
		if seasonal.P > 0 || seasonal.D > 0 || seasonal.Q > 0 {
			return nil, fmt.Errorf("seasonal terms require period > 1, got %d", s)
		}
		s = 1
	}

	diff := differencingPoly(order.D, seasonal.D, s)
	deg := len(diff) - 1
	if len(y) <= deg {
		return nil, fmt.Errorf("%w: %d points for differencing degree %d", ErrInsufficientHistory, len(y), deg)
	}

	w := applyPoly(y, diff)
	intercept := 0.0
	if order.D+seasonal.D == 0 {
		intercept = stat.Mean(w, nil)
		for i := range w {
			w[i] -= intercept
		}
	}

	k := order.P + order.Q + seasonal.P + seasonal.Q
	cond := order.P + seasonal.P*s
	nEff := len(w) - cond
	if nEff <= k+1 {
		return nil, fmt.Errorf("%w: %d effective points for %d parameters", ErrInsufficientHistory, nEff, k)
	}

	m := &SeasonalARIMAModel{
		Order:         order,
		SeasonalOrder: SeasonalOrder{P: seasonal.P, D: seasonal.D, Q: seasonal.Q, S: seasonal.S},
		Intercept:     intercept,
		Series:        append([]float64(nil), y...),
	}

	objective := func(x []float64) float64 {
		m.unpack(x)
		css := m.css(w, cond)
		if math.IsNaN(css) || math.IsInf(css, 0) {
			return 1e100
		}
		return css / float64(nEff)
	}

	x := make([]float64, k)
	if k > 0 {
		problem := optimize.Problem{Func: objective}
		settings := &optimize.Settings{FuncEvaluations: arimaMaxEvaluations}
		result, err := optimize.Minimize(problem, x, settings, &optimize.NelderMead{})
		if result == nil {
			return nil, fmt.Errorf("optimizer failed: %w", err)
		}
		x = result.X
	}
	m.unpack(x)

	css := m.css(w, cond)
	if math.IsNaN(css) || math.IsInf(css, 0) {
		return nil, fmt.Errorf("non-finite residuals for order %v x %v", order.Tuple(), seasonal.Tuple())
	}
	m.Sigma2 = css / float64(nEff)
	nParams := k + 1
	if order.D+seasonal.D == 0 {
		nParams++
	}
	m.AIC = float64(nEff)*math.Log(math.Max(m.Sigma2, 1e-12)) + 2*float64(nParams)
	return m, nil
}

func (m *SeasonalARIMAModel) unpack(x []float64) {
	i := 0
	take := func(n int) []float64 {
		out := append([]float64(nil), x[i:i+n]...)
		i += n
		return out
	}
	m.AR = take(m.Order.P)
	m.MA = take(m.Order.Q)
	m.SeasonalAR = take(m.SeasonalOrder.P)
	m.SeasonalMA = take(m.SeasonalOrder.Q)
}

func (m *SeasonalARIMAModel) period() int {
	if m.SeasonalOrder.S <= 1 {
		return 1
	}
	return m.SeasonalOrder.S
}

// css - сумма квадратов остатков начиная с индекса cond
func (m *SeasonalARIMAModel) css(w []float64, cond int) float64 {
	e := m.residuals(w)
	if e == nil {
		return math.Inf(1)
	}
	sum := 0.0
	for t := cond; t < len(e); t++ {
		sum += e[t] * e[t]
	}
	return sum
}

// residuals считает e_t рекурсивно, предвыборочные значения равны нулю
func (m *SeasonalARIMAModel) residuals(w []float64) []float64 {
	ar := arPoly(m.AR, m.SeasonalAR, m.period())
	ma := maPoly(m.MA, m.SeasonalMA, m.period())
	e := make([]float64, len(w))
	for t := range w {
		pred := 0.0
		for i := 1; i < len(ar); i++ {
			if t-i < 0 {
				break
			}
			pred -= ar[i] * w[t-i]
		}
		for j := 1; j < len(ma); j++ {
			if t-j < 0 {
				break
			}
			pred += ma[j] * e[t-j]
		}
		e[t] = w[t] - pred
		if math.Abs(e[t]) > 1e12 {
			return nil
		}
	}
	return e
}

// Forecast строит прогноз на horizon шагов после конца обучающего ряда
func (m *SeasonalARIMAModel) Forecast(horizon int) ([]float64, error) {
	if horizon <= 0 {
		return []float64{}, nil
	}
	diff := differencingPoly(m.Order.D, m.SeasonalOrder.D, m.period())
	deg := len(diff) - 1
	if len(m.Series) <= deg {
		return nil, fmt.Errorf("%w: model series too short", ErrInsufficientHistory)
	}

	w := applyPoly(m.Series, diff)
	for i := range w {
		w[i] -= m.Intercept
	}
	e := m.residuals(w)
	if e == nil {
		return nil, fmt.Errorf("non-finite residuals in stored model")
	}

	ar := arPoly(m.AR, m.SeasonalAR, m.period())
	ma := maPoly(m.MA, m.SeasonalMA, m.period())
	for step := 0; step < horizon; step++ {
		t := len(w)
		v := 0.0
		for i := 1; i < len(ar); i++ {
			if t-i < 0 {
				break
			}
			v -= ar[i] * w[t-i]
		}
		for j := 1; j < len(ma); j++ {
			if t-j < 0 {
				break
			}
			v += ma[j] * e[t-j]
		}
		w = append(w, v)
		e = append(e, 0)
	}

	// Обратное дифференцирование: y_t = w_t - sum_{i>=1} c_i y_{t-i}
	n := len(m.Series)
	y := append([]float64(nil), m.Series...)
	base := len(w) - horizon
	for step := 0; step < horizon; step++ {
		t := len(y)
		v := w[base+step] + m.Intercept
		for i := 1; i <= deg; i++ {
			v -= diff[i] * y[t-i]
		}
		y = append(y, v)
	}
	return y[n:], nil
}

// polyMul перемножает многочлены от оператора сдвига B
func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

// differencingPoly - (1-B)^d (1-B^s)^D
func differencingPoly(d, D, s int) []float64 {
	p := []float64{1}
	for i := 0; i < d; i++ {
		p = polyMul(p, []float64{1, -1})
	}
	for i := 0; i < D; i++ {
		seasonal := make([]float64, s+1)
		seasonal[0], seasonal[s] = 1, -1
		p = polyMul(p, seasonal)
	}
	return p
}

// applyPoly: w_k = sum_i c_i y_{k+deg-i}
func applyPoly(y, c []float64) []float64 {
	deg := len(c) - 1
	if len(y) <= deg {
		return nil
	}
	out := make([]float64, len(y)-deg)
	for k := range out {
		t := k + deg
		v := 0.0
		for i, ci := range c {
			v += ci * y[t-i]
		}
		out[k] = v
	}
	return out
}

// arPoly - (1 - phi_1 B - ...)(1 - Phi_1 B^s - ...)
func arPoly(ar, sar []float64, s int) []float64 {
	p := make([]float64, len(ar)+1)
	p[0] = 1
	for i, v := range ar {
		p[i+1] = -v
	}
	sp := make([]float64, len(sar)*s+1)
	sp[0] = 1
	for i, v := range sar {
		sp[(i+1)*s] = -v
	}
	return polyMul(p, sp)
}

// maPoly - (1 + theta_1 B + ...)(1 + Theta_1 B^s + ...)
func maPoly(ma, sma []float64, s int) []float64 {
	p := make([]float64, len(ma)+1)
	p[0] = 1
	for i, v := range ma {
		p[i+1] = v
	}
	sp := make([]float64, len(sma)*s+1)
	sp[0] = 1
	for i, v := range sma {
		sp[(i+1)*s] = v
	}
	return polyMul(p, sp)
}
