package speedlayer

import (
	brokerpkg "github.com/lodeworks/speedlayer/internal/broker"
	configpkg "github.com/lodeworks/speedlayer/internal/config"
	errspkg "github.com/lodeworks/speedlayer/internal/errors"
	eventpkg "github.com/lodeworks/speedlayer/internal/event"
	idspkg "github.com/lodeworks/speedlayer/internal/ids"
	jsoncodec "github.com/lodeworks/speedlayer/internal/jsoncodec"
	listenerpkg "github.com/lodeworks/speedlayer/internal/listener"
	"github.com/lodeworks/speedlayer/internal/listener/mongostream"
	loggingpkg "github.com/lodeworks/speedlayer/internal/logging"
	processorpkg "github.com/lodeworks/speedlayer/internal/processor"
	storagepkg "github.com/lodeworks/speedlayer/internal/storage"
	tokenspkg "github.com/lodeworks/speedlayer/internal/tokens"
	validatorpkg "github.com/lodeworks/speedlayer/internal/validator"
)

type (
	Config = configpkg.Config

	// Event model
	EventType        = eventpkg.EventType
	Priority         = eventpkg.Priority
	Source           = eventpkg.Source
	Metadata         = eventpkg.Metadata
	Event            = eventpkg.Event
	DataEvent        = eventpkg.DataEvent
	ReviewEvent      = eventpkg.ReviewEvent
	PromotionEvent   = eventpkg.PromotionEvent
	ValidationEvent  = eventpkg.ValidationEvent
	CrawlEvent       = eventpkg.CrawlEvent
	BatchEvent       = eventpkg.BatchEvent
	SystemAlertEvent = eventpkg.SystemAlertEvent
	AlertSeverity    = eventpkg.AlertSeverity
	Issue            = eventpkg.Issue

	// Broker
	Broker          = brokerpkg.Broker
	EventHandler    = brokerpkg.EventHandler
	FuncHandler     = brokerpkg.FuncHandler
	InMemoryBroker  = brokerpkg.InMemoryBroker
	WatermillBroker = brokerpkg.WatermillBroker
	NATSBroker      = brokerpkg.NATSBroker

	// Processor
	Processor       = processorpkg.Processor
	ProcessorConfig = processorpkg.Config
	ProcessorStats  = processorpkg.Stats
	Envelope        = processorpkg.Envelope
	EnvelopeStatus  = processorpkg.Status
	BackoffConfig   = processorpkg.BackoffConfig
	DeadLetterStore = processorpkg.DeadLetterStore
	EventStore      = processorpkg.EventStore

	// Listener
	Listener       = listenerpkg.Listener
	ListenerConfig = listenerpkg.Config
	ListenerState  = listenerpkg.State
	ListenerStats  = listenerpkg.Stats
	Change         = listenerpkg.Change
	ChangeSource   = listenerpkg.ChangeSource
	ChangeCursor   = listenerpkg.ChangeCursor
	WatchOptions   = listenerpkg.WatchOptions
	Override       = listenerpkg.Override

	// Resume tokens
	ResumeToken              = tokenspkg.ResumeToken
	TokenStore               = tokenspkg.Store
	PostgresTokenStore       = tokenspkg.PostgresStore
	TokenStorePostgresConfig = tokenspkg.PostgresConfig

	// Event archive
	PostgresEventStore       = storagepkg.PostgresEventStore
	EventStorePostgresConfig = storagepkg.PostgresConfig

	// Validator
	Validator       = validatorpkg.Validator
	ValidatorConfig = validatorpkg.Config
	ValidatorStats  = validatorpkg.Stats
	Profile         = validatorpkg.Profile
	FieldRule       = validatorpkg.FieldRule
	SourceRegistry  = validatorpkg.SourceRegistry
	SourceConfig    = validatorpkg.SourceConfig
	FieldConfig     = validatorpkg.FieldConfig

	// Logging
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
)

var (
	// Brokers
	NewInMemoryBroker = brokerpkg.NewInMemoryBroker
	NewChannelBroker  = brokerpkg.NewChannelBroker
	NewKafkaBroker    = brokerpkg.NewKafkaBroker
	NewNATSBroker     = brokerpkg.NewNATSBroker

	// Processor and its pre-built handlers
	NewProcessor                = processorpkg.New
	NewMemoryDeadLetterStore    = processorpkg.NewMemoryDeadLetterStore
	NewLoggingHandler           = processorpkg.NewLoggingHandler
	NewMetricsHandler           = processorpkg.NewMetricsHandler
	NewPersistenceHandler       = processorpkg.NewPersistenceHandler
	NewWebhookHandler           = processorpkg.NewWebhookHandler
	NewPostgresEventStore       = storagepkg.NewPostgresEventStore
	NewPostgresEventStoreWithDB = storagepkg.NewPostgresEventStoreWithDB

	// Listener and change sources
	NewListener    = listenerpkg.New
	NewMongoSource = mongostream.NewSource

	// Resume token stores
	NewMemoryTokenStore         = tokenspkg.NewMemoryStore
	NewPostgresTokenStore       = tokenspkg.NewPostgresStore
	NewPostgresTokenStoreWithDB = tokenspkg.NewPostgresStoreWithDB

	// Validator
	NewValidator         = validatorpkg.New
	NewValidatorCache    = validatorpkg.NewCache
	StrictDefaultProfile = validatorpkg.StrictDefaultProfile

	// Event model
	NewMetadata         = eventpkg.NewMetadata
	NewDataEvent        = eventpkg.NewDataEvent
	NewReviewEvent      = eventpkg.NewReviewEvent
	NewPromotionEvent   = eventpkg.NewPromotionEvent
	NewValidationEvent  = eventpkg.NewValidationEvent
	NewCrawlEvent       = eventpkg.NewCrawlEvent
	NewBatchEvent       = eventpkg.NewBatchEvent
	NewSystemAlertEvent = eventpkg.NewSystemAlertEvent
	EventTypes          = eventpkg.Types
	FromDict            = eventpkg.FromDict
	MarshalEvent        = eventpkg.Marshal
	UnmarshalEvent      = eventpkg.Unmarshal
	TopicForType        = eventpkg.TopicForType
	TopicForEvent       = eventpkg.TopicForEvent
	DLQTopic            = eventpkg.DLQTopic
	ParsePriority       = eventpkg.ParsePriority

	// JSON codec
	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	// Logging
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	CreateULID = idspkg.CreateULID

	// Sentinel errors
	ErrBrokerRequired     = errspkg.ErrBrokerRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrStreamIDRequired   = errspkg.ErrStreamIDRequired
	ErrSourceRequired     = errspkg.ErrSourceRequired
	ErrTokenStoreRequired = errspkg.ErrTokenStoreRequired
	ErrProcessorClosed    = errspkg.ErrProcessorClosed
	ErrBrokerClosed       = errspkg.ErrBrokerClosed
	ErrListenerRunning    = errspkg.ErrListenerRunning
	ErrUnknownEventType   = errspkg.ErrUnknownEventType
	ErrHistoryLost        = listenerpkg.ErrHistoryLost
)

// Event types.
const (
	DataCreated          = eventpkg.DataCreated
	DataUpdated          = eventpkg.DataUpdated
	DataDeleted          = eventpkg.DataDeleted
	DataValidated        = eventpkg.DataValidated
	DataValidationFailed = eventpkg.DataValidationFailed
	ReviewStarted        = eventpkg.ReviewStarted
	ReviewApproved       = eventpkg.ReviewApproved
	ReviewRejected       = eventpkg.ReviewRejected
	PromotionStarted     = eventpkg.PromotionStarted
	PromotionCompleted   = eventpkg.PromotionCompleted
	PromotionFailed      = eventpkg.PromotionFailed
	CrawlStarted         = eventpkg.CrawlStarted
	CrawlCompleted       = eventpkg.CrawlCompleted
	CrawlFailed          = eventpkg.CrawlFailed
	BatchStarted         = eventpkg.BatchStarted
	BatchCompleted       = eventpkg.BatchCompleted
	BatchFailed          = eventpkg.BatchFailed
	SystemAlert          = eventpkg.SystemAlert
)

// Priorities, ordered most to least urgent.
const (
	PriorityCritical   = eventpkg.PriorityCritical
	PriorityHigh       = eventpkg.PriorityHigh
	PriorityNormal     = eventpkg.PriorityNormal
	PriorityLow        = eventpkg.PriorityLow
	PriorityBackground = eventpkg.PriorityBackground
)

// Topics from the static routing table.
const (
	TopicData       = eventpkg.TopicData
	TopicValidation = eventpkg.TopicValidation
	TopicReview     = eventpkg.TopicReview
	TopicPromotion  = eventpkg.TopicPromotion
	TopicCrawl      = eventpkg.TopicCrawl
	TopicSystem     = eventpkg.TopicSystem
	TopicBatch      = eventpkg.TopicBatch
	TopicDefault    = eventpkg.TopicDefault
)

// Alert severities.
const (
	SeverityCritical = eventpkg.SeverityCritical
	SeverityError    = eventpkg.SeverityError
	SeverityWarning  = eventpkg.SeverityWarning
	SeverityInfo     = eventpkg.SeverityInfo
)

// Envelope statuses.
const (
	StatusPending    = processorpkg.StatusPending
	StatusProcessing = processorpkg.StatusProcessing
	StatusCompleted  = processorpkg.StatusCompleted
	StatusFailed     = processorpkg.StatusFailed
	StatusRetrying   = processorpkg.StatusRetrying
	StatusDeadLetter = processorpkg.StatusDeadLetter
)

// Listener states.
const (
	StateIdle             = listenerpkg.StateIdle
	StateWatching         = listenerpkg.StateWatching
	StateRecoverableError = listenerpkg.StateRecoverableError
	StateStopping         = listenerpkg.StateStopping
)
