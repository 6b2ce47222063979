package providers

import (
	"strings"

	"github.com/haasonsaas/scripthost/pkg/models"
)

// modelPrice holds USD per million tokens.
type modelPrice struct {
	inputPerMTok  float64
	outputPerMTok float64
}

// Prices use prefix match so dated model ids resolve without updates.
var modelPrices = map[string]modelPrice{
	"claude-opus-4":     {15.00, 75.00},
	"claude-sonnet-4":   {3.00, 15.00},
	"claude-3-5-haiku":  {0.80, 4.00},
	"claude-3-5-sonnet": {3.00, 15.00},
	"gpt-4o-mini":       {0.15, 0.60},
	"gpt-4o":            {2.50, 10.00},
	"gpt-4.1":           {2.00, 8.00},
	"o3":                {2.00, 8.00},
}

// fallbackPrice is used for models without a table entry so cost
// accounting never silently reports zero.
var fallbackPrice = modelPrice{3.00, 15.00}

// CostUSD computes the realised cost of a completion from its usage.
func CostUSD(model string, usage models.TokenUsage) float64 {
	price := fallbackPrice
	best := 0
	for prefix, p := range modelPrices {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			price = p
			best = len(prefix)
		}
	}
	in := float64(usage.PromptTokens) / 1e6 * price.inputPerMTok
	out := float64(usage.CompletionTokens) / 1e6 * price.outputPerMTok
	return in + out
}
