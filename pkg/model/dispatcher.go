package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
	"github.com/murtaza-nasir/maestro-sub003/pkg/llms"
)

// Details reports what a dispatch actually did. Absent usage fields stay 0
// and are still reported.
type Details struct {
	ModelName         string  `json:"model_name"`
	Provider          string  `json:"provider"`
	PromptTokens      int     `json:"prompt_tokens"`
	CompletionTokens  int     `json:"completion_tokens"`
	NativeTotalTokens int     `json:"native_total_tokens"`
	Cost              float64 `json:"cost"`
}

// Options carries per-call overrides.
type Options struct {
	MissionID      string
	ResponseFormat *llms.ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	ModelOverride  string
}

// Dispatcher routes completions by role and enforces the global concurrency
// bound.
type Dispatcher struct {
	providers *llms.ProviderRegistry
	resolver  *config.Resolver
	tracker   *CostTracker
	sem       *semaphore.Weighted // nil when unbounded
}

// NewDispatcher creates a dispatcher. A max_concurrent_requests of 0 leaves
// admission unbounded.
func NewDispatcher(providers *llms.ProviderRegistry, resolver *config.Resolver) *Dispatcher {
	d := &Dispatcher{
		providers: providers,
		resolver:  resolver,
		tracker:   NewCostTracker(),
	}
	maxConcurrent, err := resolver.GetInt(config.ParamMaxConcurrentRequests, "")
	if err == nil && maxConcurrent > 0 {
		d.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return d
}

// Tracker returns the cost tracker accumulating totals by model key.
func (d *Dispatcher) Tracker() *CostTracker {
	return d.tracker
}

// Dispatch performs a chat completion for the given role, applying per-role
// temperature and token limits, retrying transient failures, and reporting
// usage details.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []llms.Message, role Role, opts *Options) (*llms.Response, *Details, error) {
	if opts == nil {
		opts = &Options{}
	}
	if role == "" {
		role = RoleDefault
	}

	providerName, modelName, err := d.route(role, opts)
	if err != nil {
		return nil, nil, err
	}

	provider, err := d.providers.GetProvider(providerName)
	if err != nil {
		return nil, nil, err
	}

	req := &llms.Request{
		Messages:       messages,
		Model:          modelName,
		Temperature:    d.temperatureFor(role, opts),
		MaxTokens:      d.maxTokensFor(role, opts),
		ResponseFormat: opts.ResponseFormat,
	}

	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return nil, nil, err
		}
		defer d.sem.Release(1)
	}

	timeoutSecs, _ := d.resolver.GetInt(config.ParamLLMRequestTimeout, opts.MissionID)
	maxRetries, _ := d.resolver.GetInt(config.ParamMaxRetries, opts.MissionID)
	retryDelay, _ := d.resolver.GetFloat(config.ParamRetryDelay, opts.MissionID)

	var resp *llms.Response
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if timeoutSecs > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
		}

		resp, lastErr = provider.Generate(callCtx, req)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if llms.IsAuthError(lastErr) {
			// Authentication failures are a configuration problem, never
			// a retry candidate.
			return nil, nil, fmt.Errorf("%w: %v", config.ErrConfigurationRequired, lastErr)
		}
		if !llms.IsTransient(lastErr) {
			return nil, nil, lastErr
		}
		if attempt < maxRetries {
			slog.Warn("retrying LLM request",
				"role", string(role),
				"model", modelName,
				"attempt", attempt+1,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Duration(retryDelay * float64(time.Second))):
			}
		}
	}
	if lastErr != nil {
		return nil, nil, fmt.Errorf("LLM request failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	details := &Details{
		ModelName:         resp.Model,
		Provider:          providerName,
		PromptTokens:      resp.Usage.PromptTokens,
		CompletionTokens:  resp.Usage.CompletionTokens,
		NativeTotalTokens: resp.Usage.TotalTokens,
		Cost:              resp.Cost,
	}
	d.tracker.Record(details)

	return resp, details, nil
}

// route resolves the provider and model serving a role.
func (d *Dispatcher) route(role Role, opts *Options) (providerName, modelName string, err error) {
	class := ClassForRole(role)

	var providerParam, modelParam string
	switch class {
	case ClassFast:
		providerParam, modelParam = config.ParamFastProvider, config.ParamFastModel
	case ClassIntelligent:
		providerParam, modelParam = config.ParamIntelligentProvider, config.ParamIntelligentModel
	case ClassVerifier:
		providerParam, modelParam = config.ParamVerifierProvider, config.ParamVerifierModel
	default:
		providerParam, modelParam = config.ParamMidProvider, config.ParamMidModel
	}

	providerName, err = d.resolver.GetString(providerParam, opts.MissionID)
	if err != nil {
		return "", "", err
	}

	if opts.ModelOverride != "" {
		return providerName, opts.ModelOverride, nil
	}

	modelName, err = d.resolver.GetString(modelParam, opts.MissionID)
	if err != nil {
		return "", "", err
	}
	if modelName == "" && class == ClassVerifier {
		// The verifier tier falls back to the fast tier when unset.
		modelName, err = d.resolver.GetString(config.ParamFastModel, opts.MissionID)
		if err != nil {
			return "", "", err
		}
	}
	return providerName, modelName, nil
}

func (d *Dispatcher) temperatureFor(role Role, opts *Options) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	var param string
	switch role {
	case RolePlanning, RoleReflection:
		param = config.ParamPlanningTemperature
	case RoleResearch, RoleQueryPreparation, RoleQueryStrategy, RoleNoteAssignment:
		param = config.ParamResearchTemperature
	case RoleWriting, RoleSimplifiedWriting:
		param = config.ParamWritingTemperature
	default:
		param = config.ParamDefaultTemperature
	}
	temp, err := d.resolver.GetFloat(param, opts.MissionID)
	if err != nil {
		return 0.5
	}
	return temp
}

func (d *Dispatcher) maxTokensFor(role Role, opts *Options) int {
	if opts.MaxTokens != nil {
		return *opts.MaxTokens
	}
	param := config.ParamDefaultMaxTokens
	if role == RoleWriting || role == RoleSimplifiedWriting {
		param = config.ParamWritingMaxTokens
	}
	maxTokens, err := d.resolver.GetInt(param, opts.MissionID)
	if err != nil {
		return 4096
	}
	return maxTokens
}
