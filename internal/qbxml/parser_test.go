package qbxml

import (
	"testing"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventoryResponse = `<?xml version="1.0" ?>
<QBXML>
<QBXMLMsgsRs>
<ItemInventoryQueryRs requestID="job-1" statusCode="0" statusSeverity="Info" statusMessage="Status OK">
<ItemInventoryRet>
<ListID>80000001-123</ListID>
<TimeCreated>2024-03-01T09:00:00-05:00</TimeCreated>
<TimeModified>2024-03-05T10:15:00-05:00</TimeModified>
<EditSequence>1709651700</EditSequence>
<Name>Widget</Name>
<FullName>Gadgets:Widget</FullName>
<IsActive>true</IsActive>
<ManufacturerPartNumber>WIDGET-1</ManufacturerPartNumber>
<QuantityOnHand>10</QuantityOnHand>
<DataExtRet>
<OwnerID>0</OwnerID>
<DataExtName>SKU</DataExtName>
<DataExtType>STR255TYPE</DataExtType>
<DataExtValue>W-001</DataExtValue>
</DataExtRet>
</ItemInventoryRet>
<ItemInventoryRet>
<ListID>80000002-456</ListID>
<Name>Bolt &amp; Nut</Name>
<FullName>Bolt &amp; Nut</FullName>
<IsActive>false</IsActive>
<QuantityOnHand>2.5</QuantityOnHand>
</ItemInventoryRet>
<ItemInventoryRet>
<ListID>80000003-789</ListID>
<Name>Kit</Name>
</ItemInventoryRet>
</ItemInventoryQueryRs>
</QBXMLMsgsRs>
</QBXML>`

func TestParseInventoryResponse(t *testing.T) {
	resp, err := ParseResponse(inventoryResponse)
	require.NoError(t, err)

	assert.Equal(t, "ItemInventoryQueryRs", resp.Type)
	assert.Equal(t, "job-1", resp.RequestID)
	assert.Equal(t, StatusOK, resp.StatusCode)
	assert.True(t, resp.OK())
	require.Len(t, resp.Items, 3)

	widget := resp.Items[0]
	assert.Equal(t, "80000001-123", widget.ListID)
	assert.Equal(t, "Gadgets:Widget", widget.FullName)
	assert.True(t, widget.IsActive)
	assert.Equal(t, "WIDGET-1", widget.ManufacturerPartNumber)
	assert.Equal(t, "2024-03-05T10:15:00-05:00", widget.TimeModified)
	require.True(t, widget.QuantityOnHand.Valid)
	assert.Equal(t, "10", widget.QuantityOnHand.Decimal.String())
	assert.Equal(t, map[string]string{"SKU": "W-001"}, widget.CustomFields)

	bolt := resp.Items[1]
	assert.Equal(t, "Bolt & Nut", bolt.Name)
	assert.False(t, bolt.IsActive)
	assert.Equal(t, "2.5", bolt.QuantityOnHand.Decimal.String())

	assert.False(t, resp.Items[2].QuantityOnHand.Valid)
}

func TestParseNoMatchIsEmptySuccess(t *testing.T) {
	doc := `<?xml version="1.0" ?>
<QBXML><QBXMLMsgsRs>
<ItemInventoryQueryRs requestID="q" statusCode="1" statusSeverity="Info" statusMessage="A query request did not find a matching object in QuickBooks" />
</QBXMLMsgsRs></QBXML>`

	resp, err := ParseResponse(doc)
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatch, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.Empty(t, resp.Items)
}

func TestParseNoMatchFailsAdjustment(t *testing.T) {
	doc := `<QBXML><QBXMLMsgsRs>
<InventoryAdjustmentAddRs requestID="job-9" statusCode="1" statusSeverity="Info" statusMessage="A query request did not find a matching object in QuickBooks" />
</QBXMLMsgsRs></QBXML>`

	resp, err := ParseResponse(doc)
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatch, resp.StatusCode)
	assert.False(t, resp.OK(), "an adjustment that matched nothing was not applied")
	assert.Nil(t, resp.Adjustment)
	assert.Contains(t, resp.Error(), "InventoryAdjustmentAddRs status 1")
}

func TestParseAdjustmentResponse(t *testing.T) {
	doc := `<?xml version="1.0" ?>
<QBXML><QBXMLMsgsRs>
<InventoryAdjustmentAddRs requestID="job-9" statusCode="0" statusSeverity="Info" statusMessage="Status OK">
<InventoryAdjustmentRet>
<TxnID>1A2B-1709651700</TxnID>
<AccountRef><ListID>8000000A-1</ListID><FullName>Inventory Adjustments</FullName></AccountRef>
<Memo>inbound sync</Memo>
<InventoryAdjustmentLineRet>
<TxnLineID>1A2C</TxnLineID>
<ItemRef><ListID>80000001-123</ListID><FullName>Widget</FullName></ItemRef>
<QuantityDifference>-3</QuantityDifference>
</InventoryAdjustmentLineRet>
</InventoryAdjustmentRet>
</InventoryAdjustmentAddRs>
</QBXMLMsgsRs></QBXML>`

	resp, err := ParseResponse(doc)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	require.NotNil(t, resp.Adjustment)
	assert.Equal(t, "1A2B-1709651700", resp.Adjustment.TxnID)
	assert.Equal(t, "Inventory Adjustments", resp.Adjustment.Account)
	require.Len(t, resp.Adjustment.Lines, 1)
	assert.Equal(t, "id:80000001-123", resp.Adjustment.Lines[0].Identity())
	assert.Equal(t, "-3", resp.Adjustment.Lines[0].QuantityDelta.String())
}

func TestParseErrorStatus(t *testing.T) {
	doc := `<QBXML><QBXMLMsgsRs>
<InventoryAdjustmentAddRs requestID="job-9" statusCode="3140" statusSeverity="Error" statusMessage="There is an invalid reference to QuickBooks Item &quot;X&quot;." />
</QBXMLMsgsRs></QBXML>`

	resp, err := ParseResponse(doc)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, 3140, resp.StatusCode)
	assert.Equal(t, SeverityError, resp.StatusSeverity)
	assert.Contains(t, resp.Error(), `invalid reference to QuickBooks Item "X"`)
}

func TestParseWindows1252(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"windows-1252\"?>\n" +
		"<QBXML><QBXMLMsgsRs><ItemInventoryQueryRs statusCode=\"0\">" +
		"<ItemInventoryRet><ListID>1</ListID><Name>Caf\xe9</Name><QuantityOnHand>1</QuantityOnHand></ItemInventoryRet>" +
		"</ItemInventoryQueryRs></QBXMLMsgsRs></QBXML>"

	resp, err := ParseResponse(doc)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "Café", resp.Items[0].Name)
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"not xml":       "hello",
		"no responses":  "<QBXML><QBXMLMsgsRs></QBXMLMsgsRs></QBXML>",
		"bad status":    `<QBXML><QBXMLMsgsRs><ItemInventoryQueryRs statusCode="abc"/></QBXMLMsgsRs></QBXML>`,
		"unclosed tags": "<QBXML><QBXMLMsgsRs>",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseResponse(doc)
			assert.Error(t, err)
		})
	}
}

func TestParseAdjustmentRequestRequiresAdjustment(t *testing.T) {
	doc, err := NewBuilder(10).Build(queryJob())
	require.NoError(t, err)

	_, err = ParseAdjustmentRequest(doc)
	assert.Error(t, err)
}

func queryJob() model.Job {
	job := model.NewInventoryQueryJob(model.SourceAPI, 0)
	job.ID = "q"
	return job
}

func TestValidateRequest(t *testing.T) {
	doc, err := NewBuilder(100).Build(queryJob())
	require.NoError(t, err)
	names, err := ValidateRequest(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"ItemInventoryQueryRq"}, names)

	_, err = ValidateRequest(`<?xml version="1.0"?><QBXML><QBXMLMsgsRq onError="stopOnError"></QBXMLMsgsRq></QBXML>`)
	assert.Error(t, err)

	_, err = ValidateRequest(`<QBXML><QBXMLMsgsRq><InventoryAdjustmentAddRq><InventoryAdjustmentAdd>
<AccountRef><FullName>Adj</FullName></AccountRef>
<InventoryAdjustmentLineAdd><ItemRef><ListID>1</ListID></ItemRef><QuantityAdjustment><QuantityDifference>lots</QuantityDifference></QuantityAdjustment></InventoryAdjustmentLineAdd>
</InventoryAdjustmentAdd></InventoryAdjustmentAddRq></QBXMLMsgsRq></QBXML>`)
	assert.Error(t, err)

	_, err = ValidateRequest("<QBXML>")
	assert.Error(t, err)
}
