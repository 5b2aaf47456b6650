package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"triage_server/adapter/out/marketplace"
	"triage_server/adapter/out/messaging"
	"triage_server/adapter/out/notify"
	"triage_server/adapter/out/provider"
	"triage_server/config"
	"triage_server/core/agent/llm"
	"triage_server/core/service/triage"
	"triage_server/pkg/httputil"
	"triage_server/pkg/metrics"
	"triage_server/pkg/retry"
)

type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	Gmail    *provider.GmailGateway
	Ebay     *marketplace.Client
	Notifier *notify.TelegramNotifier
	Redis    *redis.Client // nil unless REDIS_URL is set

	Stats      *metrics.DispatchStats
	Dispatcher *triage.Dispatcher
}

// NewMailbox builds the Gmail gateway from the stored user token.
func NewMailbox(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*provider.GmailGateway, error) {
	client, err := provider.NewUserClient(ctx, cfg.GmailCredentialsFile, cfg.GmailTokenFile, httputil.GmailClient(), log)
	if err != nil {
		return nil, err
	}
	return provider.NewGmailGateway(ctx, provider.GmailConfig{
		UserID:     cfg.GmailUserID,
		LabelID:    cfg.GmailWatchLabelID,
		Topic:      cfg.GmailPubSubTopic,
		HTTPClient: client,
	}, log)
}

// NewDependencies wires every collaborator of the dispatcher.
func NewDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config: cfg,
		Log:    log,
		Stats:  metrics.NewDispatchStats(),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var err error
	if deps.Gmail, err = NewMailbox(ctx, cfg, log); err != nil {
		return nil, nil, fmt.Errorf("gmail: %w", err)
	}
	log.Info().Str("user", cfg.GmailUserID).Str("label", cfg.GmailWatchLabelID).Msg("gmail gateway ready")

	if deps.Ebay, err = marketplace.NewClient(marketplace.Config{
		ClientID:      cfg.EbayClientID,
		ClientSecret:  cfg.EbayClientSecret,
		Environment:   cfg.EbayEnvironment,
		MarketplaceID: cfg.EbayMarketplaceID,
		ResultLimit:   cfg.EbayResultLimit,
	}, log); err != nil {
		return nil, nil, fmt.Errorf("ebay: %w", err)
	}

	if deps.Notifier, err = notify.NewTelegramNotifier(notify.TelegramConfig{
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
	}, log); err != nil {
		return nil, nil, fmt.Errorf("telegram: %w", err)
	}

	tasks := newAgents(cfg, log)

	opts := []triage.Option{
		triage.WithStats(deps.Stats),
		triage.WithEscalateOnReplyFailure(cfg.EscalateOnReplyFailure),
	}

	if cfg.RedisURL != "" {
		if deps.Redis, err = messaging.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		closers = append(closers, func() { _ = deps.Redis.Close() })
		opts = append(opts, triage.WithLocker(messaging.NewRedisLocker(deps.Redis, log), cfg.MessageLockTTL))
		log.Info().Dur("lock_ttl", cfg.MessageLockTTL).Msg("redis connected, message lock enabled")
	}

	deps.Dispatcher = triage.NewDispatcher(triage.Dependencies{
		Mailbox:     deps.Gmail,
		Classifier:  tasks.Classifier,
		Synthesizer: tasks.Synthesizer,
		Searcher:    deps.Ebay,
		Evaluator:   tasks.Evaluator,
		Generator:   tasks.Generator,
		Notifier:    deps.Notifier,
	}, log, opts...)

	return deps, cleanup, nil
}

// agents are the four language model tasks of the pipeline.
type agents struct {
	Classifier  *llm.Classifier
	Synthesizer *llm.QuerySynthesizer
	Evaluator   *llm.RelevanceEvaluator
	Generator   *llm.ReplyGenerator
}

// newAgents binds classification to the classification model and the
// other three tasks to the generation model.
func newAgents(cfg *config.Config, log zerolog.Logger) agents {
	classifyModel, generateModel := newModels(cfg, log)
	caller := llm.NewCaller(retry.Policy{
		MaxAttempts: cfg.LLMMaxRetries,
		BaseDelay:   cfg.LLMRetryBaseDelay,
		Multiplier:  cfg.LLMRetryMultiplier,
	}, log)

	return agents{
		Classifier:  llm.NewClassifier(caller, classifyModel, log),
		Synthesizer: llm.NewQuerySynthesizer(caller, generateModel, log),
		Evaluator:   llm.NewRelevanceEvaluator(caller, generateModel, log),
		Generator:   llm.NewReplyGenerator(caller, generateModel, cfg.ReplyLanguage, log),
	}
}

// newModels returns the classification and generation handles. A client
// that cannot be built yields handles that fail every call.
func newModels(cfg *config.Config, log zerolog.Logger) (*llm.Model, *llm.Model) {
	httpCfg := httputil.LLMClientConfig()
	if cfg.LLMTimeout > 0 {
		httpCfg.ResponseTimeout = cfg.LLMTimeout
	}

	client, err := llm.NewClient(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Temperature: cfg.LLMTemperature,
		HTTPClient:  httputil.NewClient(httpCfg),
	})
	if err != nil {
		log.Error().Err(err).Msg("language model client unavailable")
		return llm.UnavailableModel(cfg.LLMClassificationModel, err), llm.UnavailableModel(cfg.LLMGenerationModel, err)
	}

	log.Info().
		Str("classification_model", cfg.LLMClassificationModel).
		Str("generation_model", cfg.LLMGenerationModel).
		Msg("language models initialized")
	return llm.NewModel(cfg.LLMClassificationModel, client), llm.NewModel(cfg.LLMGenerationModel, client)
}

// breakerStates reports each provider circuit for /stats.
func (d *Dependencies) breakerStates() map[string]string {
	return map[string]string{
		"gmail":    d.Gmail.CircuitState(),
		"ebay":     d.Ebay.CircuitState(),
		"telegram": d.Notifier.CircuitState(),
	}
}
