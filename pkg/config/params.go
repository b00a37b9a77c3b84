package config

// ParamType declares how a resolved value is coerced.
type ParamType int

const (
	TypeString ParamType = iota
	TypeInt
	TypeFloat
	TypeBool
)

// Param describes one tunable parameter: its default, its environment
// spelling, its path inside user settings, and (optionally) its key inside
// mission metadata. Lookup order is mission > user > environment > default.
type Param struct {
	Name       string
	Type       ParamType
	Default    any
	EnvVar     string
	UserPath   string // dot-separated path into user settings JSON
	MissionKey string // key inside mission metadata; empty = not per-mission
	Required   bool   // no usable value anywhere is a configuration error
}

// Model routing and credentials.
const (
	ParamFastProvider        = "fast_llm_provider"
	ParamMidProvider         = "mid_llm_provider"
	ParamIntelligentProvider = "intelligent_llm_provider"
	ParamVerifierProvider    = "verifier_llm_provider"
	ParamFastModel           = "fast_llm_model"
	ParamMidModel            = "mid_llm_model"
	ParamIntelligentModel    = "intelligent_llm_model"
	ParamVerifierModel       = "verifier_llm_model"
)

// Search.
const (
	ParamWebSearchProvider = "web_search_provider"
	ParamTavilyAPIKey      = "tavily_api_key"
	ParamLinkUpAPIKey      = "linkup_api_key"
	ParamSearXNGBaseURL    = "searxng_base_url"
)

// Research budgets.
const (
	ParamMaxSearchIterations      = "max_search_iterations"
	ParamMaxDecomposedQueries     = "max_decomposed_queries"
	ParamMaxSearchResults         = "max_search_results"
	ParamMaxDocResults            = "max_doc_results"
	ParamInitialResearchQuestions = "initial_research_max_questions"
	ParamInitialResearchDepth     = "initial_research_max_depth"
	ParamStructuredRounds         = "structured_research_rounds"
	ParamWritingPasses            = "writing_passes"
	ParamThoughtPadLimit          = "thought_pad_context_limit"
	ParamMaxConcurrentRequests    = "max_concurrent_requests"
	ParamSkipFinalReplanning      = "skip_final_replanning"
	ParamMaxTotalDepth            = "max_total_depth"
	ParamMaxPlanningContextChars  = "max_planning_context_chars"
	ParamMaxSuggestionsPerBatch   = "max_suggestions_per_batch"
	ParamMaxNotesPerAssignment    = "max_notes_per_assignment_batch"
)

// Timing.
const (
	ParamLLMRequestTimeout  = "llm_request_timeout"
	ParamMaxRetries         = "max_retries"
	ParamRetryDelay         = "retry_delay"
	ParamWebCacheExpiration = "web_cache_expiration_days"
	ParamTimezone           = "timezone"
)

// Per-role generation settings. These have no environment spelling; they are
// mission/user tunables only.
const (
	ParamPlanningTemperature = "planning_temperature"
	ParamResearchTemperature = "research_temperature"
	ParamWritingTemperature  = "writing_temperature"
	ParamDefaultTemperature  = "default_temperature"
	ParamDefaultMaxTokens    = "default_max_tokens"
	ParamWritingMaxTokens    = "writing_max_tokens"
)

// builtinParams is the authoritative parameter table. Every tunable the
// pipelines read goes through here so the four-layer precedence holds
// uniformly.
var builtinParams = []Param{
	{Name: ParamFastProvider, Type: TypeString, Default: "openrouter", EnvVar: "FAST_LLM_PROVIDER", UserPath: "ai_endpoints.fast.provider", MissionKey: "fast_llm_provider"},
	{Name: ParamMidProvider, Type: TypeString, Default: "openrouter", EnvVar: "MID_LLM_PROVIDER", UserPath: "ai_endpoints.mid.provider", MissionKey: "mid_llm_provider"},
	{Name: ParamIntelligentProvider, Type: TypeString, Default: "openrouter", EnvVar: "INTELLIGENT_LLM_PROVIDER", UserPath: "ai_endpoints.intelligent.provider", MissionKey: "intelligent_llm_provider"},
	{Name: ParamVerifierProvider, Type: TypeString, Default: "openrouter", EnvVar: "VERIFIER_LLM_PROVIDER", UserPath: "ai_endpoints.verifier.provider", MissionKey: "verifier_llm_provider"},
	{Name: ParamFastModel, Type: TypeString, EnvVar: "FAST_LLM_MODEL", UserPath: "ai_endpoints.fast.model", MissionKey: "fast_llm_model", Required: true},
	{Name: ParamMidModel, Type: TypeString, EnvVar: "MID_LLM_MODEL", UserPath: "ai_endpoints.mid.model", MissionKey: "mid_llm_model", Required: true},
	{Name: ParamIntelligentModel, Type: TypeString, EnvVar: "INTELLIGENT_LLM_MODEL", UserPath: "ai_endpoints.intelligent.model", MissionKey: "intelligent_llm_model", Required: true},
	{Name: ParamVerifierModel, Type: TypeString, EnvVar: "VERIFIER_LLM_MODEL", UserPath: "ai_endpoints.verifier.model", MissionKey: "verifier_llm_model"},

	{Name: ParamWebSearchProvider, Type: TypeString, Default: "searxng", EnvVar: "WEB_SEARCH_PROVIDER", UserPath: "search.provider", MissionKey: "web_search_provider"},
	{Name: ParamTavilyAPIKey, Type: TypeString, EnvVar: "TAVILY_API_KEY", UserPath: "search.tavily_api_key"},
	{Name: ParamLinkUpAPIKey, Type: TypeString, EnvVar: "LINKUP_API_KEY", UserPath: "search.linkup_api_key"},
	{Name: ParamSearXNGBaseURL, Type: TypeString, EnvVar: "SEARXNG_BASE_URL", UserPath: "search.searxng_base_url"},

	{Name: ParamMaxSearchIterations, Type: TypeInt, Default: 3, EnvVar: "MAX_SEARCH_ITERATIONS", UserPath: "research.max_search_iterations", MissionKey: "max_search_iterations"},
	{Name: ParamMaxDecomposedQueries, Type: TypeInt, Default: 3, EnvVar: "MAX_DECOMPOSED_QUERIES", UserPath: "research.max_decomposed_queries", MissionKey: "max_decomposed_queries"},
	{Name: ParamMaxSearchResults, Type: TypeInt, Default: 5, EnvVar: "MAX_SEARCH_RESULTS", UserPath: "research.max_search_results", MissionKey: "max_search_results"},
	{Name: ParamMaxDocResults, Type: TypeInt, Default: 5, EnvVar: "MAX_DOC_RESULTS", UserPath: "research.max_doc_results", MissionKey: "max_doc_results"},
	{Name: ParamInitialResearchQuestions, Type: TypeInt, Default: 10, EnvVar: "INITIAL_RESEARCH_MAX_QUESTIONS", UserPath: "research.initial_research_max_questions", MissionKey: "initial_research_max_questions"},
	{Name: ParamInitialResearchDepth, Type: TypeInt, Default: 2, EnvVar: "INITIAL_RESEARCH_MAX_DEPTH", UserPath: "research.initial_research_max_depth", MissionKey: "initial_research_max_depth"},
	{Name: ParamStructuredRounds, Type: TypeInt, Default: 2, EnvVar: "STRUCTURED_RESEARCH_ROUNDS", UserPath: "research.structured_research_rounds", MissionKey: "structured_research_rounds"},
	{Name: ParamWritingPasses, Type: TypeInt, Default: 3, EnvVar: "WRITING_PASSES", UserPath: "research.writing_passes", MissionKey: "writing_passes"},
	{Name: ParamThoughtPadLimit, Type: TypeInt, Default: 10, EnvVar: "THOUGHT_PAD_CONTEXT_LIMIT", UserPath: "research.thought_pad_context_limit", MissionKey: "thought_pad_context_limit"},
	{Name: ParamMaxConcurrentRequests, Type: TypeInt, Default: 5, EnvVar: "MAX_CONCURRENT_REQUESTS", UserPath: "research.max_concurrent_requests", MissionKey: "max_concurrent_requests"},
	{Name: ParamSkipFinalReplanning, Type: TypeBool, Default: false, EnvVar: "SKIP_FINAL_REPLANNING", UserPath: "research.skip_final_replanning", MissionKey: "skip_final_replanning"},
	{Name: ParamMaxTotalDepth, Type: TypeInt, Default: 2, EnvVar: "MAX_TOTAL_DEPTH", UserPath: "research.max_total_depth", MissionKey: "max_total_depth"},
	{Name: ParamMaxPlanningContextChars, Type: TypeInt, Default: 250000, EnvVar: "MAX_PLANNING_CONTEXT_CHARS", UserPath: "research.max_planning_context_chars", MissionKey: "max_planning_context_chars"},
	{Name: ParamMaxSuggestionsPerBatch, Type: TypeInt, Default: 3, EnvVar: "MAX_SUGGESTIONS_PER_BATCH", UserPath: "research.max_suggestions_per_batch", MissionKey: "max_suggestions_per_batch"},
	{Name: ParamMaxNotesPerAssignment, Type: TypeInt, Default: 40, EnvVar: "MAX_NOTES_PER_ASSIGNMENT_BATCH", UserPath: "research.max_notes_per_assignment_batch", MissionKey: "max_notes_per_assignment_batch"},

	{Name: ParamLLMRequestTimeout, Type: TypeInt, Default: 600, EnvVar: "LLM_REQUEST_TIMEOUT", UserPath: "timing.llm_request_timeout"},
	{Name: ParamMaxRetries, Type: TypeInt, Default: 3, EnvVar: "MAX_RETRIES", UserPath: "timing.max_retries"},
	{Name: ParamRetryDelay, Type: TypeFloat, Default: 5.0, EnvVar: "RETRY_DELAY", UserPath: "timing.retry_delay"},
	{Name: ParamWebCacheExpiration, Type: TypeInt, Default: 1, EnvVar: "WEB_CACHE_EXPIRATION_DAYS", UserPath: "timing.web_cache_expiration_days"},
	{Name: ParamTimezone, Type: TypeString, Default: "UTC", EnvVar: "TZ", UserPath: "timing.timezone"},

	{Name: ParamPlanningTemperature, Type: TypeFloat, Default: 0.5, UserPath: "generation.planning_temperature", MissionKey: "planning_temperature"},
	{Name: ParamResearchTemperature, Type: TypeFloat, Default: 0.3, UserPath: "generation.research_temperature", MissionKey: "research_temperature"},
	{Name: ParamWritingTemperature, Type: TypeFloat, Default: 0.7, UserPath: "generation.writing_temperature", MissionKey: "writing_temperature"},
	{Name: ParamDefaultTemperature, Type: TypeFloat, Default: 0.5, UserPath: "generation.default_temperature", MissionKey: "default_temperature"},
	{Name: ParamDefaultMaxTokens, Type: TypeInt, Default: 4096, UserPath: "generation.default_max_tokens", MissionKey: "default_max_tokens"},
	{Name: ParamWritingMaxTokens, Type: TypeInt, Default: 8192, UserPath: "generation.writing_max_tokens", MissionKey: "writing_max_tokens"},
}
