package qbxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// Status codes with special meaning
const (
	StatusOK          = 0
	StatusNoMatch     = 1
	SeverityError     = "Error"
	elementSuffixResp = "Rs"
	elementSuffixReq  = "Rq"

	queryResponseSuffix = "QueryRs"
)

// ErrNoResponse is returned when a document carries no response element
var ErrNoResponse = errors.New("qbxml: no response element")

// Response is the parsed content of a qbXML response document
type Response struct {
	// Type is the first response element name, e.g. ItemInventoryQueryRs
	Type           string
	RequestID      string
	StatusCode     int
	StatusSeverity string
	StatusMessage  string

	Items      []model.InventoryItem
	Adjustment *AdjustmentResult
}

// OK reports a successful response. "No matching objects" counts as an
// empty success for queries only; any other request answered that way was
// not executed.
func (r *Response) OK() bool {
	switch r.StatusCode {
	case StatusOK:
		return true
	case StatusNoMatch:
		return strings.HasSuffix(r.Type, queryResponseSuffix)
	default:
		return false
	}
}

// Error describes a failed response
func (r *Response) Error() string {
	return fmt.Sprintf("%s status %d (%s): %s", r.Type, r.StatusCode, r.StatusSeverity, r.StatusMessage)
}

// AdjustmentResult is an InventoryAdjustmentRet
type AdjustmentResult struct {
	TxnID   string
	Account string
	Memo    string
	Lines   []model.AdjustmentLine
}

type qbxmlRs struct {
	XMLName xml.Name `xml:"QBXML"`
	Msgs    struct {
		Responses []rsElement `xml:",any"`
	} `xml:"QBXMLMsgsRs"`
}

type rsElement struct {
	XMLName        xml.Name
	RequestID      string                   `xml:"requestID,attr"`
	StatusCode     string                   `xml:"statusCode,attr"`
	StatusSeverity string                   `xml:"statusSeverity,attr"`
	StatusMessage  string                   `xml:"statusMessage,attr"`
	Items          []itemInventoryRet       `xml:"ItemInventoryRet"`
	Adjustments    []inventoryAdjustmentRet `xml:"InventoryAdjustmentRet"`
}

type itemInventoryRet struct {
	ListID                 string       `xml:"ListID"`
	TimeCreated            string       `xml:"TimeCreated"`
	TimeModified           string       `xml:"TimeModified"`
	EditSequence           string       `xml:"EditSequence"`
	Name                   string       `xml:"Name"`
	FullName               string       `xml:"FullName"`
	IsActive               string       `xml:"IsActive"`
	ManufacturerPartNumber string       `xml:"ManufacturerPartNumber"`
	SalesDesc              string       `xml:"SalesDesc"`
	BarCodeValue           string       `xml:"BarCodeValue"`
	QuantityOnHand         string       `xml:"QuantityOnHand"`
	DataExt                []dataExtRet `xml:"DataExtRet"`
}

type dataExtRet struct {
	Name  string `xml:"DataExtName"`
	Value string `xml:"DataExtValue"`
}

type inventoryAdjustmentRet struct {
	TxnID      string                       `xml:"TxnID"`
	AccountRef ref                          `xml:"AccountRef"`
	Memo       string                       `xml:"Memo"`
	Lines      []inventoryAdjustmentLineRet `xml:"InventoryAdjustmentLineRet"`
}

type inventoryAdjustmentLineRet struct {
	ItemRef            ref    `xml:"ItemRef"`
	QuantityDifference string `xml:"QuantityDifference"`
}

// ParseResponse decodes a response document. Status attributes come from the
// first response element; items and adjustments are collected from all of them.
func ParseResponse(doc string) (*Response, error) {
	var rs qbxmlRs
	if err := decode(doc, &rs); err != nil {
		return nil, err
	}

	var elements []rsElement
	for _, el := range rs.Msgs.Responses {
		if strings.HasSuffix(el.XMLName.Local, elementSuffixResp) {
			elements = append(elements, el)
		}
	}
	if len(elements) == 0 {
		return nil, ErrNoResponse
	}

	first := elements[0]
	resp := &Response{
		Type:           first.XMLName.Local,
		RequestID:      first.RequestID,
		StatusSeverity: first.StatusSeverity,
		StatusMessage:  first.StatusMessage,
	}
	if first.StatusCode != "" {
		code, err := strconv.Atoi(strings.TrimSpace(first.StatusCode))
		if err != nil {
			return nil, fmt.Errorf("qbxml: invalid statusCode %q: %w", first.StatusCode, err)
		}
		resp.StatusCode = code
	}

	for _, el := range elements {
		for _, ret := range el.Items {
			resp.Items = append(resp.Items, ret.toItem())
		}
		if resp.Adjustment == nil && len(el.Adjustments) > 0 {
			adj, err := el.Adjustments[0].toResult()
			if err != nil {
				return nil, err
			}
			resp.Adjustment = adj
		}
	}
	return resp, nil
}

// ParseAdjustmentRequest recovers the account, memo and lines of an
// InventoryAdjustmentAddRq document
func ParseAdjustmentRequest(doc string) (*model.AdjustmentPayload, error) {
	var rq qbxmlRq
	if err := decode(doc, &rq); err != nil {
		return nil, err
	}
	add := rq.Msgs.InventoryAdjustmentAdd
	if add == nil {
		return nil, errors.New("qbxml: document has no InventoryAdjustmentAddRq")
	}

	payload := &model.AdjustmentPayload{
		Account: add.Add.AccountRef.FullName,
		Memo:    add.Add.Memo,
	}
	for _, l := range add.Add.Lines {
		qty, err := decimal.NewFromString(strings.TrimSpace(l.QuantityAdjustment.QuantityDifference))
		if err != nil {
			return nil, fmt.Errorf("qbxml: invalid QuantityDifference %q: %w", l.QuantityAdjustment.QuantityDifference, err)
		}
		payload.Lines = append(payload.Lines, model.AdjustmentLine{
			ListID:        l.ItemRef.ListID,
			FullName:      l.ItemRef.FullName,
			QuantityDelta: qty,
		})
	}
	return payload, nil
}

func decode(doc string, v any) error {
	if strings.TrimSpace(doc) == "" {
		return errors.New("qbxml: empty document")
	}
	dec := xml.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.CharsetReader = charsetReader
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("qbxml: decode: %w", err)
	}
	return nil
}

// charsetReader accepts the single-byte encodings the desktop application
// may declare in addition to UTF-8
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "utf-8", "utf8", "us-ascii":
		return input, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("qbxml: unsupported charset %q", label)
	}
}

func (r itemInventoryRet) toItem() model.InventoryItem {
	item := model.InventoryItem{
		ListID:                 strings.TrimSpace(r.ListID),
		Name:                   r.Name,
		FullName:               r.FullName,
		IsActive:               strings.EqualFold(strings.TrimSpace(r.IsActive), "true"),
		EditSequence:           r.EditSequence,
		BarCodeValue:           r.BarCodeValue,
		ManufacturerPartNumber: r.ManufacturerPartNumber,
		SalesDesc:              r.SalesDesc,
		TimeCreated:            r.TimeCreated,
		TimeModified:           r.TimeModified,
	}
	if qty, err := decimal.NewFromString(strings.TrimSpace(r.QuantityOnHand)); err == nil {
		item.QuantityOnHand = decimal.NewNullDecimal(qty)
	}
	if len(r.DataExt) > 0 {
		item.CustomFields = make(map[string]string, len(r.DataExt))
		for _, ext := range r.DataExt {
			if name := strings.TrimSpace(ext.Name); name != "" {
				item.CustomFields[name] = ext.Value
			}
		}
	}
	return item
}

func (r inventoryAdjustmentRet) toResult() (*AdjustmentResult, error) {
	res := &AdjustmentResult{
		TxnID:   r.TxnID,
		Account: r.AccountRef.FullName,
		Memo:    r.Memo,
	}
	for _, l := range r.Lines {
		qty := decimal.Zero
		if s := strings.TrimSpace(l.QuantityDifference); s != "" {
			var err error
			if qty, err = decimal.NewFromString(s); err != nil {
				return nil, fmt.Errorf("qbxml: invalid QuantityDifference %q: %w", s, err)
			}
		}
		res.Lines = append(res.Lines, model.AdjustmentLine{
			ListID:        l.ItemRef.ListID,
			FullName:      l.ItemRef.FullName,
			QuantityDelta: qty,
		})
	}
	return res, nil
}

type requestEnvelope struct {
	XMLName xml.Name `xml:"QBXML"`
	Msgs    struct {
		Requests []struct {
			XMLName xml.Name
		} `xml:",any"`
	} `xml:"QBXMLMsgsRq"`
}

// ValidateRequest checks that doc is a well-formed request document and
// returns the names of its request elements. Adjustment requests must also
// carry readable quantities.
func ValidateRequest(doc string) ([]string, error) {
	var env requestEnvelope
	if err := decode(doc, &env); err != nil {
		return nil, err
	}

	var names []string
	for _, rq := range env.Msgs.Requests {
		if strings.HasSuffix(rq.XMLName.Local, elementSuffixReq) {
			names = append(names, rq.XMLName.Local)
		}
	}
	if len(names) == 0 {
		return nil, errors.New("qbxml: document has no request element")
	}
	for _, name := range names {
		if name == "InventoryAdjustmentAddRq" {
			if _, err := ParseAdjustmentRequest(doc); err != nil {
				return nil, err
			}
			break
		}
	}
	return names, nil
}
