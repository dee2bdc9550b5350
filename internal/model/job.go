package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// JobType identifies how a job is rendered into a qbXML request
type JobType string

const (
	JobTypeInventoryQuery  JobType = "inventoryQuery"
	JobTypeInventoryAdjust JobType = "inventoryAdjust"
	JobTypeRaw             JobType = "raw"
)

// Job sources
const (
	SourceAPI        = "api"
	SourceInbound    = "inbound-sync"
	SourceFollowUp   = "adjustment-followup"
	SourceCLI        = "cli"
	SourceWebConnect = "web-connector"
)

// QueryPayload parameterizes an ItemInventoryQueryRq
type QueryPayload struct {
	MaxReturned  int        `json:"max_returned,omitempty"`
	ActiveStatus string     `json:"active_status,omitempty"` // ActiveOnly | InactiveOnly | All
	FromModified *time.Time `json:"from_modified,omitempty"`
	ToModified   *time.Time `json:"to_modified,omitempty"`
}

// Partial reports whether the query selects a subset of the items a default
// query returns, so its result cannot stand in for the whole inventory
func (q *QueryPayload) Partial() bool {
	if q == nil {
		return false
	}
	return q.FromModified != nil || q.ToModified != nil || q.ActiveStatus == "InactiveOnly"
}

// AdjustmentLine is one InventoryAdjustmentLineAdd
type AdjustmentLine struct {
	ListID        string          `json:"list_id,omitempty"`
	FullName      string          `json:"full_name,omitempty"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
}

// Identity returns the accounting identity used to aggregate lines
func (l AdjustmentLine) Identity() string {
	if id := strings.TrimSpace(l.ListID); id != "" {
		return "id:" + id
	}
	return "name:" + strings.TrimSpace(l.FullName)
}

// AdjustmentPayload parameterizes an InventoryAdjustmentAddRq
type AdjustmentPayload struct {
	Account string           `json:"account"`
	Memo    string           `json:"memo,omitempty"`
	Lines   []AdjustmentLine `json:"lines"`
}

// JobPayload is the typed union carried by a job. Exactly one member is
// expected to be set, matching the job type.
type JobPayload struct {
	Query      *QueryPayload      `json:"query,omitempty"`
	Adjustment *AdjustmentPayload `json:"adjustment,omitempty"`
	Raw        string             `json:"raw,omitempty"`
}

// Job is a pending unit of work for the Web Connector
type Job struct {
	ID        string     `json:"id"`
	Type      JobType    `json:"type"`
	Payload   JobPayload `json:"payload"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	SKUs      []string   `json:"skus,omitempty"`
}

// CurrentJob is the single in-flight job slot
type CurrentJob struct {
	Job          Job       `json:"job"`
	Ticket       string    `json:"ticket,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// QueueState is the durable state guarded by the queue lock
type QueueState struct {
	Jobs    []Job       `json:"jobs"`
	Current *CurrentJob `json:"current,omitempty"`
}

// NewInventoryQueryJob builds an inventory query job
func NewInventoryQueryJob(source string, maxReturned int) Job {
	return Job{
		Type:   JobTypeInventoryQuery,
		Source: source,
		Payload: JobPayload{
			Query: &QueryPayload{MaxReturned: maxReturned},
		},
	}
}

// NewAdjustmentJob builds an inventory adjustment job tagged with its originating SKUs
func NewAdjustmentJob(source string, payload AdjustmentPayload, skus []string) Job {
	return Job{
		Type:    JobTypeInventoryAdjust,
		Source:  source,
		Payload: JobPayload{Adjustment: &payload},
		SKUs:    skus,
	}
}

// NewRawJob wraps a pre-built qbXML request
func NewRawJob(source, xml string) Job {
	return Job{
		Type:    JobTypeRaw,
		Source:  source,
		Payload: JobPayload{Raw: xml},
	}
}

// IsAdjustmentFrom reports whether the job is an adjustment created by one of the sources
func (j Job) IsAdjustmentFrom(sources ...string) bool {
	if j.Type != JobTypeInventoryAdjust {
		return false
	}
	for _, s := range sources {
		if j.Source == s {
			return true
		}
	}
	return false
}
