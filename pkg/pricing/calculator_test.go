package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davidthor/vmprov/pkg/schema/deployment"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *deployment.Config
		expected Estimate
	}{
		{
			name: "t3.micro x2 with 20GB",
			cfg: &deployment.Config{
				Provider: deployment.ProviderAWS,
				Architecture: deployment.Architecture{
					VMCount:      deployment.Int(2),
					InstanceType: deployment.String("t3.micro"),
					Storage:      deployment.Int(20),
				},
			},
			expected: Estimate{MonthlyCost: 21, Breakdown: Breakdown{Compute: 17, Storage: 4, Network: 5}},
		},
		{
			name: "unknown instance type uses fallback",
			cfg: &deployment.Config{
				Provider: deployment.ProviderAWS,
				Architecture: deployment.Architecture{
					VMCount:      deployment.Int(3),
					InstanceType: deployment.String("x9.huge"),
					Storage:      deployment.Int(100),
				},
			},
			expected: Estimate{MonthlyCost: 180, Breakdown: Breakdown{Compute: 150, Storage: 30, Network: 5}},
		},
		{
			name: "missing fields use defaults",
			cfg: &deployment.Config{
				Provider:     deployment.ProviderAWS,
				Architecture: deployment.Architecture{InstanceType: deployment.String("m5.large")},
			},
			expected: Estimate{MonthlyCost: 89, Breakdown: Breakdown{Compute: 87, Storage: 2, Network: 5}},
		},
		{
			name: "unknown provider uses fallback",
			cfg: &deployment.Config{
				Provider:     "gcp",
				Architecture: deployment.Architecture{InstanceType: deployment.String("t3.micro")},
			},
			expected: Estimate{MonthlyCost: 52, Breakdown: Breakdown{Compute: 50, Storage: 2, Network: 5}},
		},
	}

	calc := NewCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, &tt.expected, calc.Calculate(tt.cfg))
		})
	}
}

func TestCalculate_Rounding(t *testing.T) {
	calc := NewCalculatorWithPrices(&Prices{
		Instances:        map[deployment.Provider]map[string]float64{},
		FallbackInstance: 1.005,
		StoragePerGB:     0.333,
	})

	est := calc.Calculate(&deployment.Config{
		Provider:     deployment.ProviderAWS,
		Architecture: deployment.Architecture{VMCount: deployment.Int(1), Storage: deployment.Int(1)},
	})
	assert.InDelta(t, 1.34, est.MonthlyCost, 0.0001)
	assert.InDelta(t, 0.33, est.Breakdown.Storage, 0.0001)
}
