package services

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"possales/server/internal/forecast"
)

// DemoForecaster строит правдоподобный синтетический прогноз для витрины, пока модели нет
type DemoForecaster struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemoForecaster - seed фиксирует генерируемые данные (для тестов)
func NewDemoForecaster(seed int64) *DemoForecaster {
	return &DemoForecaster{rng: rand.New(rand.NewSource(seed))}
}

var demoProducts = []struct {
	product  forecast.Product
	avgDaily float64
}{
	{forecast.Product{ID: 1, Name: "Milk", SKU: "MLK-001", Stock: 45}, 8.5},
	{forecast.Product{ID: 2, Name: "Bread", SKU: "BRD-001", Stock: 12}, 5.2},
	{forecast.Product{ID: 3, Name: "Eggs", SKU: "EGG-001", Stock: 60}, 12.3},
}

func (d *DemoForecaster) uniform(lo, hi float64) float64 {
	return lo + d.rng.Float64()*(hi-lo)
}

// weekdayFactor: понедельник и воскресенье - слабые дни
func weekdayFactor(t time.Time, low float64) float64 {
	if wd := t.Weekday(); wd == time.Monday || wd == time.Sunday {
		return low
	}
	return 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Response - ответ того же формата, что и настоящий прогноз
func (d *DemoForecaster) Response(horizon int, today time.Time, forced bool) *PredictResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	today = forecast.Day(today)
	const days = 30
	historical := make([]SeriesPoint, 0, days)
	base := float64(500 + d.rng.Intn(2501))
	for i := days; i >= 1; i-- {
		date := today.AddDate(0, 0, -i)
		trend := 1 + float64(i)/days*0.15
		v := round2(base * weekdayFactor(date, 0.7) * trend * d.uniform(0.85, 1.15))
		historical = append(historical, actualPoint(date, v))
	}

	points := make([]forecast.PredictedPoint, 0, horizon)
	base = float64(1000 + d.rng.Intn(1501))
	for i := 1; i <= horizon; i++ {
		date := today.AddDate(0, 0, i)
		trend := 1 + float64(i)/float64(horizon)*0.10
		v := round2(base * trend * d.uniform(0.92, 1.08) * weekdayFactor(date, 0.75))
		points = append(points, forecast.PredictedPoint{Date: date, Predicted: v})
	}

	// Одна рекомендация на первую дату: товар, которого хватит меньше чем на 3 дня
	restock := forecast.RestockPlan{Mode: forecast.RestockTopPerDate, ByDate: make(map[string][]forecast.RestockRecommendation)}
	if len(points) > 0 {
		for _, p := range demoProducts {
			if float64(p.product.Stock)/p.avgDaily < 3 {
				qty := int(p.avgDaily * 7)
				if qty < 10 {
					qty = 10
				}
				restock.ByDate[points[0].Date.Format(dateLayout)] = []forecast.RestockRecommendation{{
					ProductID:     p.product.ID,
					Name:          p.product.Name,
					SKU:           p.product.SKU,
					CurrentStock:  p.product.Stock,
					AvgDailySales: round2(p.avgDaily),
					SuggestedQty:  qty,
				}}
				break
			}
		}
	}

	model := "seasonal_arima (demo)"
	return &PredictResponse{
		View:                   "daily",
		Horizon:                horizon,
		Historical:             historical,
		Forecast:               predictedPoints(points),
		RestockRecommendations: restock,
		Meta: ForecastMeta{
			Model:    &model,
			Forced:   forced,
			DemoMode: true,
			Note:     "simulated data for demonstration purposes",
		},
	}
}
