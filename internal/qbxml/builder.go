// Package qbxml renders queue jobs into qbXML requests and parses the
// responses the Web Connector hands back.
package qbxml

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/dandantas/stocksync/internal/model"
)

const (
	// Version is the qbXML version announced in every request
	Version = "13.0"
	// OnErrorStop makes the accounting system abort the message set on the first error
	OnErrorStop = "stopOnError"

	dateTimeLayout = "2006-01-02T15:04:05-07:00"
)

type qbxmlRq struct {
	XMLName xml.Name `xml:"QBXML"`
	Msgs    msgsRq   `xml:"QBXMLMsgsRq"`
}

type msgsRq struct {
	OnError                string                    `xml:"onError,attr"`
	ItemInventoryQuery     *itemInventoryQueryRq     `xml:"ItemInventoryQueryRq"`
	InventoryAdjustmentAdd *inventoryAdjustmentAddRq `xml:"InventoryAdjustmentAddRq"`
}

type itemInventoryQueryRq struct {
	RequestID        string `xml:"requestID,attr,omitempty"`
	MaxReturned      int    `xml:"MaxReturned,omitempty"`
	ActiveStatus     string `xml:"ActiveStatus,omitempty"`
	FromModifiedDate string `xml:"FromModifiedDate,omitempty"`
	ToModifiedDate   string `xml:"ToModifiedDate,omitempty"`
	OwnerID          string `xml:"OwnerID,omitempty"`
}

type inventoryAdjustmentAddRq struct {
	RequestID string                 `xml:"requestID,attr,omitempty"`
	Add       inventoryAdjustmentAdd `xml:"InventoryAdjustmentAdd"`
}

type inventoryAdjustmentAdd struct {
	AccountRef ref                 `xml:"AccountRef"`
	Memo       string              `xml:"Memo,omitempty"`
	Lines      []adjustmentLineAdd `xml:"InventoryAdjustmentLineAdd"`
}

type ref struct {
	ListID   string `xml:"ListID,omitempty"`
	FullName string `xml:"FullName,omitempty"`
}

type adjustmentLineAdd struct {
	ItemRef            ref                `xml:"ItemRef"`
	QuantityAdjustment quantityAdjustment `xml:"QuantityAdjustment"`
}

type quantityAdjustment struct {
	QuantityDifference string `xml:"QuantityDifference"`
}

// Builder renders jobs into request documents
type Builder struct {
	// DefaultMaxReturned bounds inventory queries that do not set their own limit
	DefaultMaxReturned int
}

// NewBuilder creates a builder
func NewBuilder(defaultMaxReturned int) *Builder {
	return &Builder{DefaultMaxReturned: defaultMaxReturned}
}

// Build renders job. An empty string with a nil error means the job has
// nothing to send and should be skipped.
func (b *Builder) Build(job model.Job) (string, error) {
	switch job.Type {
	case model.JobTypeInventoryQuery:
		return b.buildQuery(job)
	case model.JobTypeInventoryAdjust:
		return b.buildAdjustment(job)
	case model.JobTypeRaw:
		return strings.TrimSpace(job.Payload.Raw), nil
	default:
		return "", nil
	}
}

func (b *Builder) buildQuery(job model.Job) (string, error) {
	rq := &itemInventoryQueryRq{
		RequestID:   job.ID,
		MaxReturned: b.DefaultMaxReturned,
		OwnerID:     "0",
	}
	if q := job.Payload.Query; q != nil {
		if q.MaxReturned > 0 {
			rq.MaxReturned = q.MaxReturned
		}
		rq.ActiveStatus = q.ActiveStatus
		if q.FromModified != nil {
			rq.FromModifiedDate = q.FromModified.Format(dateTimeLayout)
		}
		if q.ToModified != nil {
			rq.ToModifiedDate = q.ToModified.Format(dateTimeLayout)
		}
	}
	return render(msgsRq{OnError: OnErrorStop, ItemInventoryQuery: rq})
}

func (b *Builder) buildAdjustment(job model.Job) (string, error) {
	p := job.Payload.Adjustment
	if p == nil {
		return "", nil
	}

	add := inventoryAdjustmentAdd{
		AccountRef: ref{FullName: strings.TrimSpace(p.Account)},
		Memo:       p.Memo,
	}
	for _, line := range p.Lines {
		if line.QuantityDelta.IsZero() {
			continue
		}
		item := ref{ListID: strings.TrimSpace(line.ListID)}
		if item.ListID == "" {
			item.FullName = strings.TrimSpace(line.FullName)
		}
		if item.ListID == "" && item.FullName == "" {
			continue
		}
		add.Lines = append(add.Lines, adjustmentLineAdd{
			ItemRef:            item,
			QuantityAdjustment: quantityAdjustment{QuantityDifference: line.QuantityDelta.String()},
		})
	}
	if len(add.Lines) == 0 {
		return "", nil
	}

	return render(msgsRq{
		OnError:                OnErrorStop,
		InventoryAdjustmentAdd: &inventoryAdjustmentAddRq{RequestID: job.ID, Add: add},
	})
}

func render(msgs msgsRq) (string, error) {
	body, err := xml.MarshalIndent(qbxmlRq{Msgs: msgs}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("qbxml: marshal request: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	sb.WriteString("\n")
	sb.WriteString(`<?qbxml version="` + Version + `"?>`)
	sb.WriteString("\n")
	sb.Write(body)
	sb.WriteString("\n")
	return sb.String(), nil
}

// FormatDateTime renders t the way qbXML date-time fields expect
func FormatDateTime(t time.Time) string {
	return t.Format(dateTimeLayout)
}
