package event

// Topic names carried on the broker. The table below is the single source of
// truth for routing: both the change stream listener and the event processor
// resolve topics through TopicForType, never through their own mapping.
const (
	TopicData       = "crawler.data.events"
	TopicValidation = "crawler.validation.events"
	TopicReview     = "crawler.review.events"
	TopicPromotion  = "crawler.promotion.events"
	TopicCrawl      = "crawler.crawl.events"
	TopicSystem     = "crawler.system.events"
	TopicBatch      = "crawler.batch.events"

	// TopicDefault receives events whose type has no explicit mapping.
	TopicDefault = "crawler.default.events"
)

var topicTable = map[EventType]string{
	DataCreated:          TopicData,
	DataUpdated:          TopicData,
	DataDeleted:          TopicData,
	DataValidated:        TopicValidation,
	DataValidationFailed: TopicValidation,
	ReviewStarted:        TopicReview,
	ReviewApproved:       TopicReview,
	ReviewRejected:       TopicReview,
	PromotionStarted:     TopicPromotion,
	PromotionCompleted:   TopicPromotion,
	PromotionFailed:      TopicPromotion,
	CrawlStarted:         TopicCrawl,
	CrawlCompleted:       TopicCrawl,
	CrawlFailed:          TopicCrawl,
	BatchStarted:         TopicBatch,
	BatchCompleted:       TopicBatch,
	BatchFailed:          TopicBatch,
	SystemAlert:          TopicSystem,
}

// TopicForType maps an event type to its topic. Unmapped types fall back to
// TopicDefault; the function is pure and total.
func TopicForType(t EventType) string {
	if topic, ok := topicTable[t]; ok {
		return topic
	}
	return TopicDefault
}

// TopicForEvent resolves the topic for a concrete event.
func TopicForEvent(e Event) string {
	return TopicForType(e.Type())
}

// DLQTopic returns the dead letter topic paired with a delivery topic.
// Convention: <topic>.dead
func DLQTopic(topic string) string {
	return topic + ".dead"
}
