package forecast

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// GradientBoostingParams - гиперпараметры бустинга (имена как у xgboost)
type GradientBoostingParams struct {
	Objective       string  `json:"objective"`
	NEstimators     int     `json:"n_estimators"`
	LearningRate    float64 `json:"learning_rate"`
	MaxDepth        int     `json:"max_depth"`
	Subsample       float64 `json:"subsample"`
	ColsampleByTree float64 `json:"colsample_bytree"`
	MinChildWeight  float64 `json:"min_child_weight"`
	Lambda          float64 `json:"reg_lambda"`
	RandomState     int64   `json:"random_state"`
}

// DefaultGradientBoostingParams возвращает параметры по умолчанию
func DefaultGradientBoostingParams() GradientBoostingParams {
	return GradientBoostingParams{
		Objective:       "reg:squarederror",
		NEstimators:     300,
		LearningRate:    0.1,
		MaxDepth:        6,
		Subsample:       0.8,
		ColsampleByTree: 0.8,
		MinChildWeight:  1,
		Lambda:          1,
		RandomState:     42,
	}
}

// AsMap - параметры в виде словаря для записи запуска
func (p GradientBoostingParams) AsMap() map[string]any {
	return map[string]any{
		"objective":        p.Objective,
		"n_estimators":     p.NEstimators,
		"learning_rate":    p.LearningRate,
		"max_depth":        p.MaxDepth,
		"subsample":        p.Subsample,
		"colsample_bytree": p.ColsampleByTree,
		"min_child_weight": p.MinChildWeight,
		"reg_lambda":       p.Lambda,
		"random_state":     p.RandomState,
	}
}

// GradientBoostedModel - ансамбль деревьев регрессии
type GradientBoostedModel struct {
	Params         GradientBoostingParams `json:"params"`
	FeatureColumns []string               `json:"feature_columns"`
	BaseScore      float64                `json:"base_score"`
	Trees          []RegressionTree       `json:"trees"`
}

// FitGradientBoosted обучает бустинг на матрице X и цели y (минимизация квадратичной ошибки)
func FitGradientBoosted(X [][]float64, y []float64, columns []string, params GradientBoostingParams) (*GradientBoostedModel, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("empty training set")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("feature rows (%d) and targets (%d) differ", len(X), len(y))
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrFeatureDerivation)
	}
	for i, row := range X {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), len(columns))
		}
	}
	if params.NEstimators <= 0 {
		return nil, fmt.Errorf("n_estimators must be positive")
	}
	if params.MaxDepth <= 0 {
		params.MaxDepth = 1
	}
	if params.Subsample <= 0 || params.Subsample > 1 {
		params.Subsample = 1
	}
	if params.ColsampleByTree <= 0 || params.ColsampleByTree > 1 {
		params.ColsampleByTree = 1
	}
	if params.MinChildWeight <= 0 {
		params.MinChildWeight = 1
	}

	model := &GradientBoostedModel{
		Params:         params,
		FeatureColumns: append([]string(nil), columns...),
		BaseScore:      stat.Mean(y, nil),
		Trees:          make([]RegressionTree, 0, params.NEstimators),
	}

	rng := rand.New(rand.NewSource(params.RandomState))
	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = model.BaseScore
	}
	residuals := make([]float64, len(y))

	nRows := int(math.Max(1, math.Round(params.Subsample*float64(len(X)))))
	nCols := int(math.Max(1, math.Round(params.ColsampleByTree*float64(len(columns)))))

	for round := 0; round < params.NEstimators; round++ {
		maxAbs := 0.0
		for i := range y {
			residuals[i] = y[i] - pred[i]
			maxAbs = math.Max(maxAbs, math.Abs(residuals[i]))
		}
		// Остатки нулевые - дальнейшие деревья ничего не добавят
		if maxAbs < 1e-12 {
			break
		}

		rows := rng.Perm(len(X))[:nRows]
		features := rng.Perm(len(columns))[:nCols]

		tree := growTree(X, residuals, rows, features, params.MaxDepth, params.MinChildWeight, params.Lambda)
		for i := range tree.Nodes {
			if tree.Nodes[i].Feature < 0 {
				tree.Nodes[i].Value *= params.LearningRate
			}
		}
		for i := range X {
			pred[i] += tree.Predict(X[i])
		}
		model.Trees = append(model.Trees, tree)
	}

	return model, nil
}

// Predict возвращает прогноз для одного вектора признаков
func (m *GradientBoostedModel) Predict(x []float64) float64 {
	out := m.BaseScore
	for i := range m.Trees {
		out += m.Trees[i].Predict(x)
	}
	return out
}

// PredictBatch возвращает прогнозы для набора строк
func (m *GradientBoostedModel) PredictBatch(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.Predict(row)
	}
	return out
}
