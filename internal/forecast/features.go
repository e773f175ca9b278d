package forecast

import (
	"fmt"
	"time"
)

// Календарные признаки
const (
	ColumnDayOfWeek  = "dow"
	ColumnMonth      = "month"
	ColumnDayOfMonth = "day"
)

// FeatureConfig описывает набор лагов и окон скользящего среднего
type FeatureConfig struct {
	Lags           []int `json:"lags"`
	RollingWindows []int `json:"rolling_windows"`
}

// DefaultFeatureConfig - лаги {1,7,14}, окна {3,7,30}
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		Lags:           []int{1, 7, 14},
		RollingWindows: []int{3, 7, 30},
	}
}

// ColumnNames возвращает упорядоченный список признаков.
// В матрицу признаков попадают только календарные, лаговые и rolling колонки,
// выручка и метки товара туда не попадают.
func (c FeatureConfig) ColumnNames() []string {
	cols := []string{ColumnDayOfWeek, ColumnMonth, ColumnDayOfMonth}
	for _, l := range c.Lags {
		cols = append(cols, fmt.Sprintf("lag_%d", l))
	}
	for _, w := range c.RollingWindows {
		cols = append(cols, fmt.Sprintf("roll_mean_%d", w))
	}
	return cols
}

// Validate проверяет, что лаги и окна положительные
func (c FeatureConfig) Validate() error {
	for _, l := range c.Lags {
		if l <= 0 {
			return fmt.Errorf("lag must be positive, got %d", l)
		}
	}
	for _, w := range c.RollingWindows {
		if w <= 0 {
			return fmt.Errorf("rolling window must be positive, got %d", w)
		}
	}
	return nil
}

// FeatureTable - плотная таблица признаков, отсортированная по дате.
// Rows[i] соответствует Dates[i] и целевому значению Y[i].
type FeatureTable struct {
	Dates   []time.Time
	Y       []float64
	Columns []string
	Rows    [][]float64
}

// Len возвращает количество строк
func (t *FeatureTable) Len() int {
	return len(t.Rows)
}

// Column возвращает значения колонки по имени
func (t *FeatureTable) Column(name string) ([]float64, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Build строит таблицу признаков из сырого (возможно разреженного и несортированного) ряда
func (c FeatureConfig) Build(points []DailySalesPoint) *FeatureTable {
	return c.BuildFromObservations(Densify(points))
}

// BuildFromObservations строит таблицу признаков из уже плотного ряда.
// Лаг L для строки i равен y[i-L] при i >= L, иначе 0.
// Скользящее среднее окна W - среднее предыдущих W дней (текущий день не включается),
// минимум одна точка, для первой строки 0.
func (c FeatureConfig) BuildFromObservations(obs []Observation) *FeatureTable {
	cols := c.ColumnNames()
	t := &FeatureTable{
		Dates:   make([]time.Time, len(obs)),
		Y:       make([]float64, len(obs)),
		Columns: cols,
		Rows:    make([][]float64, len(obs)),
	}

	// Префиксные суммы для rolling mean
	prefix := make([]float64, len(obs)+1)
	for i, o := range obs {
		t.Dates[i] = o.Date
		t.Y[i] = o.Y
		prefix[i+1] = prefix[i] + o.Y
	}

	for i, o := range obs {
		row := make([]float64, 0, len(cols))
		row = append(row,
			float64(weekdayMondayFirst(o.Date)),
			float64(o.Date.Month()),
			float64(o.Date.Day()),
		)
		for _, l := range c.Lags {
			v := 0.0
			if i >= l {
				v = obs[i-l].Y
			}
			row = append(row, v)
		}
		for _, w := range c.RollingWindows {
			start := i - w
			if start < 0 {
				start = 0
			}
			n := i - start
			v := 0.0
			if n > 0 {
				v = (prefix[i] - prefix[start]) / float64(n)
			}
			row = append(row, v)
		}
		t.Rows[i] = row
	}
	return t
}

// NextRow строит вектор признаков для дня, следующего за последним наблюдением.
// Используются только уже известные (реальные или спрогнозированные) значения.
func (c FeatureConfig) NextRow(obs []Observation) ([]float64, time.Time, error) {
	if len(obs) == 0 {
		return nil, time.Time{}, fmt.Errorf("%w: empty series", ErrFeatureDerivation)
	}
	next := obs[len(obs)-1].Date.AddDate(0, 0, 1)
	extended := make([]Observation, len(obs), len(obs)+1)
	copy(extended, obs)
	// y для нового дня в признаки не попадает: все признаки сдвинуты
	extended = append(extended, Observation{Date: next})

	table := c.BuildFromObservations(extended)
	if len(table.Columns) == 0 || table.Len() == 0 {
		return nil, time.Time{}, fmt.Errorf("%w: no feature columns", ErrFeatureDerivation)
	}
	return table.Rows[table.Len()-1], next, nil
}

// weekdayMondayFirst: понедельник = 0, воскресенье = 6
func weekdayMondayFirst(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
