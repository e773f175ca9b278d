package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DailySalesPoint - одна строка дневной агрегации продаж (по дате и, опционально, товару)
type DailySalesPoint struct {
	Date          time.Time       `json:"date"`
	TotalQuantity float64         `json:"total_quantity"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
}

// Observation - точка плотного (без пропусков) дневного ряда
type Observation struct {
	Date time.Time
	Y    float64
}

// Day обрезает время до начала календарного дня (UTC)
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Densify приводит сырой ряд к плотному дневному виду:
// сортирует по дате, суммирует дубли одной даты, заполняет пропущенные дни нулями.
// NaN и Inf в количестве считаются нулем.
func Densify(points []DailySalesPoint) []Observation {
	if len(points) == 0 {
		return nil
	}

	byDay := make(map[time.Time]float64, len(points))
	for _, p := range points {
		q := p.TotalQuantity
		if math.IsNaN(q) || math.IsInf(q, 0) {
			q = 0
		}
		byDay[Day(p.Date)] += q
	}

	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	first, last := days[0], days[len(days)-1]
	span := int(last.Sub(first).Hours()/24) + 1
	out := make([]Observation, 0, span)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, Observation{Date: d, Y: byDay[d]})
	}
	return out
}

// Values возвращает значения ряда
func Values(obs []Observation) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = o.Y
	}
	return out
}

// nextDates возвращает horizon последовательных дней после last
func nextDates(last time.Time, horizon int) []time.Time {
	out := make([]time.Time, horizon)
	d := Day(last)
	for i := 0; i < horizon; i++ {
		d = d.AddDate(0, 0, 1)
		out[i] = d
	}
	return out
}
