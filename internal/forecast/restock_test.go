package forecast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeVelocityAveragesDaysInWindow(t *testing.T) {
	a := NewRestockAdvisor()
	asOf := day(2024, 4, 20)
	rows := []ProductDailySales{
		{Date: day(2024, 4, 19), ProductID: 1, TotalQuantity: 4},
		{Date: day(2024, 4, 15), ProductID: 1, TotalQuantity: 2},
		{Date: day(2024, 4, 1), ProductID: 1, TotalQuantity: 100},
		{Date: day(2024, 4, 13), ProductID: 2, TotalQuantity: 6},
		{Date: day(2024, 4, 2), ProductID: 3, TotalQuantity: 9},
	}

	v := a.ComputeVelocity(rows, asOf)

	assert.Equal(t, 3.0, v[1])
	assert.Equal(t, 6.0, v[2])
	_, ok := v[3]
	assert.False(t, ok, "product outside the window must be absent")
}

func TestCandidatesTriggerRule(t *testing.T) {
	a := NewRestockAdvisor()
	products := []Product{
		{ID: 1, Name: "Cola", SKU: "C-1", Stock: 5},
		{ID: 2, Name: "Chips", SKU: "CH-1", Stock: 1},
		{ID: 3, Name: "Water", SKU: "W-1", Stock: 100},
		{ID: 4, Name: "Gum", SKU: "G-1", Stock: 0},
		{ID: 5, Name: "Bread", SKU: "B-1", Stock: 6},
	}
	velocity := map[uint]float64{1: 3, 2: 1, 3: 10, 4: 0, 5: 3}

	got := a.Candidates(products, velocity)

	require.Len(t, got, 2)
	assert.Equal(t, uint(2), got[0].ProductID)
	assert.Equal(t, 10, got[0].SuggestedQty)
	assert.Equal(t, uint(1), got[1].ProductID)
	assert.Equal(t, 21, got[1].SuggestedQty)
	assert.Equal(t, 3.0, got[1].AvgDailySales)
	for _, r := range got {
		assert.Less(t, float64(r.CurrentStock), 2*velocity[r.ProductID])
		assert.Greater(t, velocity[r.ProductID], 0.0)
	}
}

func TestCandidatesRoundsVelocity(t *testing.T) {
	got := NewRestockAdvisor().Candidates([]Product{{ID: 1, Stock: 2}}, map[uint]float64{1: 2.456})
	require.Len(t, got, 1)
	assert.Equal(t, 2.46, got[0].AvgDailySales)
	assert.Equal(t, 17, got[0].SuggestedQty)
}

func TestRecommendModes(t *testing.T) {
	a := NewRestockAdvisor()
	candidates := []RestockRecommendation{{ProductID: 2, CurrentStock: 1}, {ProductID: 1, CurrentStock: 5}}
	forecast := []PredictedPoint{
		{Date: day(2024, 4, 21), Predicted: 12},
		{Date: day(2024, 4, 22), Predicted: 0},
		{Date: day(2024, 4, 23), Predicted: -1},
		{Date: day(2024, 4, 24), Predicted: 3},
	}

	top := a.Recommend(forecast, candidates, RestockTopPerDate)
	require.Equal(t, 2, top.Len())
	assert.Equal(t, []RestockRecommendation{candidates[0]}, top.For("2024-04-21"))
	assert.Contains(t, top.ByDate, "2024-04-24")
	assert.NotContains(t, top.ByDate, "2024-04-22")

	full := a.Recommend(forecast, candidates, RestockFullList)
	assert.Len(t, full.For("2024-04-21"), 2)

	assert.Zero(t, a.Recommend(forecast, nil, RestockTopPerDate).Len())
}

func TestRestockPlanJSONShape(t *testing.T) {
	rec := RestockRecommendation{ProductID: 2, Name: "Bread", CurrentStock: 1, SuggestedQty: 10}
	byDate := map[string][]RestockRecommendation{"2024-04-21": {rec}}

	top, err := json.Marshal(RestockPlan{Mode: RestockTopPerDate, ByDate: byDate})
	require.NoError(t, err)
	var asObject map[string]map[string]any
	require.NoError(t, json.Unmarshal(top, &asObject), "top mode: one object per date")
	assert.Equal(t, "Bread", asObject["2024-04-21"]["name"])

	full, err := json.Marshal(RestockPlan{Mode: RestockFullList, ByDate: byDate})
	require.NoError(t, err)
	var asList map[string][]map[string]any
	require.NoError(t, json.Unmarshal(full, &asList))
	assert.Len(t, asList["2024-04-21"], 1)

	empty, err := json.Marshal(RestockPlan{Mode: RestockFullList})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(empty))

	var decoded RestockPlan
	require.NoError(t, json.Unmarshal(top, &decoded))
	assert.Equal(t, RestockTopPerDate, decoded.Mode)
	assert.Equal(t, []RestockRecommendation{rec}, decoded.For("2024-04-21"))

	require.NoError(t, json.Unmarshal(full, &decoded))
	assert.Equal(t, RestockFullList, decoded.Mode)
	assert.Equal(t, []RestockRecommendation{rec}, decoded.For("2024-04-21"))
}
