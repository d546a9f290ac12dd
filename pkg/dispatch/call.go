package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/zen-systems/knowgate/pkg/adapter"
	"github.com/zen-systems/knowgate/pkg/config"
)

type callTarget struct {
	Adapter string
	Model   string
}

// callAdapterWithPolicy runs one generation call under the configured
// retry and fallback policy. Transient failures retry with exponential
// backoff; exhausted targets fall through to the next entry in the
// fallback chain. Every attempt leaves a CallReport.
func callAdapterWithPolicy(
	ctx context.Context,
	adapters map[string]adapter.Adapter,
	adapterName string,
	model string,
	prompt string,
	cfg *config.EngineConfig,
) (*adapter.Response, []adapter.CallReport, error) {
	targets := buildTargets(adapterName, model, cfg)
	retryCfg := retrySettings(cfg)
	var reports []adapter.CallReport
	var lastErr error

	for idx, target := range targets {
		adapterImpl, ok := adapters[target.Adapter]
		if !ok {
			lastErr = fmt.Errorf("adapter %s not configured", target.Adapter)
			continue
		}

		for attempt := 0; attempt <= retryCfg.MaxRetries; attempt++ {
			resp, err := adapterImpl.Generate(ctx, target.Model, prompt)
			if err == nil {
				usage := normalizeUsage(resp.Usage)
				reports = append(reports, adapter.CallReport{
					Adapter:      target.Adapter,
					Model:        target.Model,
					Usage:        usage,
					Cost:         estimateCost(cfg.Pricing, cfg.Generation.CostPerCall, target.Adapter, target.Model, usage),
					Retries:      attempt,
					FallbackUsed: idx > 0,
				})
				return resp, reports, nil
			}

			lastErr = err
			if !adapter.IsTransient(err) || attempt == retryCfg.MaxRetries {
				reports = append(reports, adapter.CallReport{
					Adapter:      target.Adapter,
					Model:        target.Model,
					Usage:        adapter.Usage{},
					Cost:         adapter.Cost{Currency: "USD"},
					Retries:      attempt,
					FallbackUsed: idx > 0,
					Error:        err.Error(),
				})
				break
			}

			backoff := computeBackoff(retryCfg.BaseBackoffMs, retryCfg.MaxBackoffMs, attempt)
			if err := sleepWithContext(ctx, backoff); err != nil {
				return nil, reports, err
			}
		}

		// A dead context makes further targets pointless.
		if ctx.Err() != nil {
			return nil, reports, ctx.Err()
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("adapter call failed")
	}
	return nil, reports, lastErr
}

func buildTargets(adapterName, model string, cfg *config.EngineConfig) []callTarget {
	targets := []callTarget{{Adapter: adapterName, Model: model}}
	if cfg == nil || !cfg.Fallback.AllowFallback {
		return targets
	}
	for _, entry := range resolveFallbackChain(cfg, adapterName, model) {
		targets = append(targets, callTarget{Adapter: entry.Adapter, Model: entry.Model})
	}
	return targets
}

func resolveFallbackChain(cfg *config.EngineConfig, adapterName, model string) []config.RouteTarget {
	if cfg == nil || cfg.Fallback.FallbackChain == nil {
		return nil
	}
	key := fmt.Sprintf("%s/%s", adapterName, model)
	if chain, ok := cfg.Fallback.FallbackChain[key]; ok {
		return chain
	}
	if chain, ok := cfg.Fallback.FallbackChain[adapterName]; ok {
		return chain
	}
	return nil
}

func retrySettings(cfg *config.EngineConfig) config.RetryConfig {
	if cfg == nil {
		return config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000}
	}
	return cfg.Retry
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	limit := time.Duration(maxMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= limit {
			return limit
		}
	}
	if backoff > limit {
		return limit
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
