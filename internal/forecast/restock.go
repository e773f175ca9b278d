package forecast

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Product - товар из складского справочника
type Product struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	SKU   string `json:"sku"`
	Stock int    `json:"stock"`
}

// ProductDailySales - продажи товара за день
type ProductDailySales struct {
	Date          time.Time
	ProductID     uint
	TotalQuantity float64
}

// RestockRecommendation - рекомендация по пополнению (не сохраняется)
type RestockRecommendation struct {
	ProductID     uint    `json:"product_id"`
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	CurrentStock  int     `json:"current_stock"`
	AvgDailySales float64 `json:"avg_daily_sales"`
	SuggestedQty  int     `json:"suggested_restock_qty"`
}

// RestockMode - одна рекомендация на дату или полный список
type RestockMode string

const (
	RestockTopPerDate RestockMode = "top"
	RestockFullList   RestockMode = "full"
)

// RestockAdvisor - правила пополнения
type RestockAdvisor struct {
	VelocityWindowDays int
	CoverDays          int
	MinQuantity        int
	TriggerMultiplier  float64
}

// NewRestockAdvisor: окно 7 дней, запас на 7 дней, минимум 10 штук, порог 2x скорости
func NewRestockAdvisor() *RestockAdvisor {
	return &RestockAdvisor{VelocityWindowDays: 7, CoverDays: 7, MinQuantity: 10, TriggerMultiplier: 2}
}

// WindowStart - первый день окна скорости продаж, заканчивающегося asOf
func (a *RestockAdvisor) WindowStart(asOf time.Time) time.Time {
	return Day(asOf).AddDate(0, 0, -a.VelocityWindowDays)
}

// ComputeVelocity - средние дневные продажи по товарам за окно [asOf-window, asOf].
// Среднее считается по дням, в которые товар продавался; товары без продаж в окне отсутствуют в результате.
func (a *RestockAdvisor) ComputeVelocity(rows []ProductDailySales, asOf time.Time) map[uint]float64 {
	from, to := a.WindowStart(asOf), Day(asOf)
	perDay := make(map[uint]map[time.Time]float64)
	for _, r := range rows {
		d := Day(r.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		if perDay[r.ProductID] == nil {
			perDay[r.ProductID] = make(map[time.Time]float64)
		}
		perDay[r.ProductID][d] += r.TotalQuantity
	}

	out := make(map[uint]float64, len(perDay))
	for id, days := range perDay {
		sum := 0.0
		for _, q := range days {
			sum += q
		}
		out[id] = sum / float64(len(days))
	}
	return out
}

// Candidates - товары, которым нужно пополнение, по возрастанию остатка.
// Товар попадает в список, если скорость > 0 и остаток < TriggerMultiplier * скорость.
func (a *RestockAdvisor) Candidates(products []Product, velocity map[uint]float64) []RestockRecommendation {
	out := make([]RestockRecommendation, 0)
	for _, p := range products {
		avg, ok := velocity[p.ID]
		if !ok || avg <= 0 {
			continue
		}
		if float64(p.Stock) >= a.TriggerMultiplier*avg {
			continue
		}
		qty := int(avg * float64(a.CoverDays))
		if qty < a.MinQuantity {
			qty = a.MinQuantity
		}
		out = append(out, RestockRecommendation{
			ProductID:     p.ID,
			Name:          p.Name,
			SKU:           p.SKU,
			CurrentStock:  p.Stock,
			AvgDailySales: math.Round(avg*100) / 100,
			SuggestedQty:  qty,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CurrentStock != out[j].CurrentStock {
			return out[i].CurrentStock < out[j].CurrentStock
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

// RestockPlan - рекомендации по датам прогноза, ключ - дата в формате 2006-01-02.
// В JSON режим top дает один объект на дату, режим full - список.
type RestockPlan struct {
	Mode   RestockMode
	ByDate map[string][]RestockRecommendation
}

// Len - число дат с рекомендациями
func (p RestockPlan) Len() int {
	return len(p.ByDate)
}

// For - рекомендации на дату
func (p RestockPlan) For(date string) []RestockRecommendation {
	return p.ByDate[date]
}

func (p RestockPlan) MarshalJSON() ([]byte, error) {
	if p.Mode == RestockFullList {
		if p.ByDate == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(p.ByDate)
	}
	top := make(map[string]RestockRecommendation, len(p.ByDate))
	for date, recs := range p.ByDate {
		if len(recs) > 0 {
			top[date] = recs[0]
		}
	}
	return json.Marshal(top)
}

// UnmarshalJSON читает обе формы: объект на дату (top) или список (full)
func (p *RestockPlan) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Mode = RestockTopPerDate
	p.ByDate = make(map[string][]RestockRecommendation, len(raw))
	for date, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) > 0 && value[0] == '[' {
			var recs []RestockRecommendation
			if err := json.Unmarshal(value, &recs); err != nil {
				return err
			}
			p.Mode = RestockFullList
			p.ByDate[date] = recs
			continue
		}
		var rec RestockRecommendation
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		p.ByDate[date] = []RestockRecommendation{rec}
	}
	return nil
}

// Recommend раскладывает кандидатов по датам прогноза с положительным спросом.
// В режиме top на дату берется самый срочный кандидат.
func (a *RestockAdvisor) Recommend(forecast []PredictedPoint, candidates []RestockRecommendation, mode RestockMode) RestockPlan {
	if mode != RestockFullList {
		mode = RestockTopPerDate
	}
	plan := RestockPlan{Mode: mode, ByDate: make(map[string][]RestockRecommendation)}
	if len(candidates) == 0 {
		return plan
	}
	for _, p := range forecast {
		if p.Predicted <= 0 {
			continue
		}
		key := p.Date.Format("2006-01-02")
		if mode == RestockFullList {
			plan.ByDate[key] = append([]RestockRecommendation(nil), candidates...)
		} else {
			plan.ByDate[key] = []RestockRecommendation{candidates[0]}
		}
	}
	return plan
}
