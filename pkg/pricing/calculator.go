// Package pricing estimates the monthly cost of a deployment.
package pricing

import (
	"math"

	"github.com/davidthor/vmprov/pkg/schema/deployment"
)

// Defaults applied to architecture fields missing from an estimate request.
const (
	DefaultVMCount = 1
	DefaultStorage = 20
)

// Prices holds monthly USD list prices.
type Prices struct {
	// Instances maps provider and instance type to a monthly price.
	Instances map[deployment.Provider]map[string]float64

	// FallbackInstance is used for instance types without a price.
	FallbackInstance float64

	// StoragePerGB is the monthly price of one GB of block storage.
	StoragePerGB float64

	// Network is a flat monthly network charge.
	Network float64
}

// DefaultPrices returns the built-in price list.
func DefaultPrices() *Prices {
	return &Prices{
		Instances: map[deployment.Provider]map[string]float64{
			deployment.ProviderAWS: {
				"t3.micro":  8.5,
				"t3.small":  17,
				"t3.medium": 34,
				"t3.large":  67,
				"m5.large":  87,
				"m5.xlarge": 174,
			},
		},
		FallbackInstance: 50,
		StoragePerGB:     0.1,
		Network:          5.0,
	}
}

// Breakdown splits an estimate by cost category.
type Breakdown struct {
	Compute float64 `json:"compute"`
	Storage float64 `json:"storage"`
	Network float64 `json:"network"`
}

// Estimate is the monthly cost of a deployment. The network charge is listed
// in the breakdown but not included in MonthlyCost.
type Estimate struct {
	MonthlyCost float64   `json:"monthly_cost"`
	Breakdown   Breakdown `json:"breakdown"`
}

// Calculator computes estimates from a price list.
type Calculator struct {
	prices *Prices
}

// NewCalculator creates a calculator with the default prices.
func NewCalculator() *Calculator {
	return NewCalculatorWithPrices(DefaultPrices())
}

// NewCalculatorWithPrices creates a calculator with specific prices.
func NewCalculatorWithPrices(prices *Prices) *Calculator {
	return &Calculator{prices: prices}
}

// Calculate estimates the monthly cost of cfg. Missing VM count and storage
// fall back to DefaultVMCount and DefaultStorage.
func (c *Calculator) Calculate(cfg *deployment.Config) *Estimate {
	arch := cfg.Architecture

	vmCount := DefaultVMCount
	if arch.VMCount != nil {
		vmCount = *arch.VMCount
	}
	storage := DefaultStorage
	if arch.Storage != nil {
		storage = *arch.Storage
	}
	instanceType := ""
	if arch.InstanceType != nil {
		instanceType = *arch.InstanceType
	}

	base := c.instancePrice(cfg.Provider, instanceType)
	storageCost := float64(storage) * c.prices.StoragePerGB

	return &Estimate{
		MonthlyCost: round2((base + storageCost) * float64(vmCount)),
		Breakdown: Breakdown{
			Compute: round2(base * float64(vmCount)),
			Storage: round2(storageCost * float64(vmCount)),
			Network: c.prices.Network,
		},
	}
}

func (c *Calculator) instancePrice(provider deployment.Provider, instanceType string) float64 {
	if price, ok := c.prices.Instances[provider][instanceType]; ok {
		return price
	}
	return c.prices.FallbackInstance
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
