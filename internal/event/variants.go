package event

// DataEvent records a single document mutation captured from the change
// stream. PreviousData carries the update-before image when the source
// database provides one.
type DataEvent struct {
	Base
	SourceID      string         `json:"source_id"`
	Collection    string         `json:"collection"`
	DocumentID    string         `json:"document_id"`
	Operation     string         `json:"operation"`
	Data          map[string]any `json:"data,omitempty"`
	PreviousData  map[string]any `json:"previous_data,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
}

// NewDataEvent constructs a data event. Optional fields (PreviousData,
// ChangedFields) may be assigned before the event enters the pipeline.
func NewDataEvent(t EventType, p Priority, sourceID, collection, documentID, operation string, data map[string]any) *DataEvent {
	return &DataEvent{
		Base:       newBase(t, p, SourceChangeStream),
		SourceID:   sourceID,
		Collection: collection,
		DocumentID: documentID,
		Operation:  operation,
		Data:       data,
	}
}

func (e *DataEvent) ToDict() map[string]any {
	d := e.baseDict()
	d["source_id"] = e.SourceID
	d["collection"] = e.Collection
	d["document_id"] = e.DocumentID
	d["operation"] = e.Operation
	if e.Data != nil {
		d["data"] = e.Data
	}
	if e.PreviousData != nil {
		d["previous_data"] = e.PreviousData
	}
	if len(e.ChangedFields) > 0 {
		d["changed_fields"] = e.ChangedFields
	}
	return d
}

// ReviewEvent marks a document moving through the human review workflow.
type ReviewEvent struct {
	Base
	ReviewID   string `json:"review_id"`
	SourceID   string `json:"source_id"`
	Collection string `json:"collection"`
	DocumentID string `json:"document_id"`
	Reviewer   string `json:"reviewer,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

func NewReviewEvent(t EventType, reviewID, sourceID, collection, documentID string) *ReviewEvent {
	return &ReviewEvent{
		Base:       newBase(t, PriorityHigh, SourceChangeStream),
		ReviewID:   reviewID,
		SourceID:   sourceID,
		Collection: collection,
		DocumentID: documentID,
	}
}

func (e *ReviewEvent) ToDict() map[string]any {
	d := e.baseDict()
	d["review_id"] = e.ReviewID
	d["source_id"] = e.SourceID
	d["collection"] = e.Collection
	d["document_id"] = e.DocumentID
	if e.Reviewer != "" {
		d["reviewer"] = e.Reviewer
	}
	if e.Notes != "" {
		d["notes"] = e.Notes
	}
	return d
}

// PromotionEvent tracks a staging to production promotion run.
type PromotionEvent struct {
	Base
	PromotionID    string `json:"promotion_id"`
	SourceID       string `json:"source_id"`
	FromCollection string `json:"from_collection"`
	ToCollection   string `json:"to_collection"`
	DocumentCount  int    `json:"document_count"`
	Reason         string `json:"reason,omitempty"`
}

func NewPromotionEvent(t EventType, promotionID, sourceID, from, to string, count int) *PromotionEvent {
	return &PromotionEvent{
		Base:           newBase(t, PriorityNormal, SourceProcessor),
		PromotionID:    promotionID,
		SourceID:       sourceID,
		FromCollection: from,
		ToCollection:   to,
		DocumentCount:  count,
	}
}

func (e *PromotionEvent) ToDict() map[string]any {
	d := e.baseDict()
	d["promotion_id"] = e.PromotionID
	d["source_id"] = e.SourceID
	d["from_collection"] = e.FromCollection
	d["to_collection"] = e.ToCollection
	d["document_count"] = e.DocumentCount
	if e.Reason != "" {
		d["reason"] = e.Reason
	}
	return d
}

// Issue is a single validation finding tied to a field and the rule that
// produced it.
type Issue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (i Issue) toDict() map[string]any {
	return map[string]any{"field": i.Field, "rule": i.Rule, "message": i.Message}
}

// ValidationEvent is the outcome of running a validation profile against a
// data event. Its metadata CausationID references the triggering event.
type ValidationEvent struct {
	Base
	SourceID     string  `json:"source_id"`
	Collection   string  `json:"collection"`
	DocumentID   string  `json:"document_id"`
	Passed       bool    `json:"passed"`
	QualityScore float64 `json:"quality_score"`
	Errors       []Issue `json:"errors,omitempty"`
	Warnings     []Issue `json:"warnings,omitempty"`
}

func NewValidationEvent(passed bool, sourceID, collection, documentID string, score float64) *ValidationEvent {
	t := DataValidated
	p := PriorityLow
	if !passed {
		t = DataValidationFailed
		p = PriorityHigh
	}
	return &ValidationEvent{
		Base:         newBase(t, p, SourceValidator),
		SourceID:     sourceID,
		Collection:   collection,
		DocumentID:   documentID,
		Passed:       passed,
		QualityScore: score,
	}
}

func (e *ValidationEvent) ToDict() map[string]any {
	d := e.baseDict()
	d["source_id"] = e.SourceID
	d["collection"] = e.Collection
	d["document_id"] = e.DocumentID
	d["passed"] = e.Passed
	d["quality_score"] = e.QualityScore
	if len(e.Errors) > 0 {
		d["errors"] = issueDicts(e.Errors)
	}
	if len(e.Warnings) > 0 {
		d["warnings"] = issueDicts(e.Warnings)
	}
	return d
}

func issueDicts(issues []Issue) []any {
	out := make([]any, len(issues))
	for i, issue := range issues {
		out[i] = issue.toDict()
	}
	return out
}

// CrawlEvent reports the lifecycle of a crawler run.
type CrawlEvent struct {
	Base
	CrawlID      string `json:"crawl_id"`
	SourceID     string `json:"source_id"`
	CrawlerName  string `json:"crawler_name"`
	PagesCrawled int    `json:"pages_crawled"`
	ItemsScraped int    `json:"items_scraped"`
	Error        string `json:"error,omitempty"`
}

func NewCrawlEvent(t EventType, crawlID, sourceID, crawlerName string) *CrawlEvent {
	return &CrawlEvent{
		Base:        newBase(t, PriorityNormal, SourceCrawler),
		CrawlID:     crawlID,
		SourceID:    sourceID,
		CrawlerName: crawlerName,
	}
}

func (e *CrawlEvent) ToDict() map[string]any {
	d := e.baseDict()
	d["crawl_id"] = e.CrawlID
	d["source_id"] = e.SourceID
	d["crawler_name"] = e.CrawlerName
	d["pages_crawled"] = e.PagesCrawled
	d["items_scraped"] = e.ItemsScraped
	if e.Error != "" {
		d["error"] = e.Error
	}
	return d
}

// BatchEvent reports the lifecycle of a batch-layer job.
type BatchEvent struct {
	Base
	BatchID          string `json:"batch_id"`
	JobName          string `json:"job_name"`
	RecordsProcessed int    `json:"records_processed"`
	DurationMillis   int64  `json:"duration_millis"`
	Error            string `json:"error,omitempty"`
}

func NewBatchEvent(t EventType, batchID, jobName string) *BatchEvent {
	return &BatchEvent{
		Base:    newBase(t, PriorityBackground, SourceScheduler),
		BatchID: batchID,
		JobName: jobName,
	}
}

func (e *BatchEvent) ToDict() map[string]any {
	d := e.baseDict()
	d["batch_id"] = e.BatchID
	d["job_name"] = e.JobName
	d["records_processed"] = e.RecordsProcessed
	d["duration_millis"] = e.DurationMillis
	if e.Error != "" {
		d["error"] = e.Error
	}
	return d
}

// AlertSeverity grades SystemAlertEvents.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityError    AlertSeverity = "error"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

func (s AlertSeverity) priority() Priority {
	switch s {
	case SeverityCritical:
		return PriorityCritical
	case SeverityError:
		return PriorityHigh
	case SeverityWarning:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// SystemAlertEvent surfaces an operational problem. Severity deterministically
// sets the delivery priority at construction.
type SystemAlertEvent struct {
	Base
	Severity  AlertSeverity  `json:"severity"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

func NewSystemAlertEvent(severity AlertSeverity, component, message string) *SystemAlertEvent {
	return &SystemAlertEvent{
		Base:      newBase(SystemAlert, severity.priority(), SourceSystem),
		Severity:  severity,
		Component: component,
		Message:   message,
	}
}

func (e *SystemAlertEvent) ToDict() map[string]any {
	d := e.baseDict()
	d["severity"] = string(e.Severity)
	d["component"] = e.Component
	d["message"] = e.Message
	if e.Details != nil {
		d["details"] = e.Details
	}
	return d
}
