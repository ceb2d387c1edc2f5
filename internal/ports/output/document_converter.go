package output

// DocumentConverter interface - Output port
// Renders rich office documents as plain text.
type DocumentConverter interface {
	// SpreadsheetToText renders every sheet as delimited text under a header line
	// naming the sheet, in workbook order.
	SpreadsheetToText(data []byte) (string, error)

	// WordDocumentToText extracts the running text of a word-processor document.
	WordDocumentToText(data []byte) (string, error)
}
