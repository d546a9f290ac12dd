package dispatch

import (
	"github.com/zen-systems/knowgate/pkg/adapter"
	"github.com/zen-systems/knowgate/pkg/config"
)

// estimateCost prices one call from token usage. When no per-1k pricing is
// configured for the target, the flat per-call estimate applies instead so
// cost accounting never silently drops a call.
func estimateCost(pricing config.PricingConfig, flatPerCall float64, adapterName, model string, usage adapter.Usage) adapter.Cost {
	entry, ok := pricingFor(pricing, adapterName, model)
	if !ok {
		return adapter.Cost{
			Currency:     "USD",
			Amount:       flatPerCall,
			IsEstimate:   true,
			PricingModel: "flat_per_call",
		}
	}

	promptCost := (float64(usage.PromptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * entry.CompletionPer1K
	return adapter.Cost{
		Currency:     "USD",
		Amount:       promptCost + completionCost,
		IsEstimate:   true,
		PricingModel: "per_1k_tokens",
	}
}

func pricingFor(pricing config.PricingConfig, adapterName, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	if adapterPricing, ok := pricing[adapterName]; ok {
		if entry, ok := adapterPricing[model]; ok {
			return entry, true
		}
		if entry, ok := adapterPricing["default"]; ok {
			return entry, true
		}
	}
	return config.ModelPricing{}, false
}

func normalizeUsage(u *adapter.Usage) adapter.Usage {
	if u == nil {
		return adapter.Usage{}
	}
	usage := *u
	if usage.TotalTokens == 0 && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// sumReportCost totals the cost of successful calls in a report list.
func sumReportCost(reports []adapter.CallReport) float64 {
	var total float64
	for _, r := range reports {
		if r.Error == "" {
			total += r.Cost.Amount
		}
	}
	return total
}
