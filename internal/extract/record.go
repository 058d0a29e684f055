// Package extract turns spreadsheet rows into transaction records. Rows come
// from parser libraries as loosely-shaped positional arrays; the extractor is
// the validation boundary — a malformed row yields nil, never an error.
package extract

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/aureopos/aureo/internal/normalize"
	"github.com/aureopos/aureo/internal/storage"
)

// Positional column layout after offset correction.
const (
	colStoreCode = iota
	colOrderNumber
	colOrderDate
	colCustomerName
	colCustomerContact
	colCustomerAddress
	colCustomerLocation
	colItemDetails
	colItemWeight
	colMetals
	colEngravings
	colStones
	colPrice
	colPawnTicket
	colSaleDate
)

// caratRe pulls a carat figure like "18K" out of the stones column.
var caratRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*[kK]`)

// Record maps one positional row to a TransactionRecord. Some spreadsheet
// libraries hand rows over with a one-element left offset (index 0 has no
// cell at all); a nil leading cell is detected and corrected here. A
// present-but-empty store cell is NOT an offset — that row takes the
// fallback code. Returns nil when a required field — store code (cell or
// fallback), order number, a valid order date, customer name — is missing.
// Dates are serialized as RFC 3339 strings.
func Record(values []any, fallbackStoreCode, activityID string) *storage.TransactionRecord {
	off := rowOffset(values)
	cell := func(i int) string { return normalize.Cell(values, i+off) }

	storeCode := cell(colStoreCode)
	if storeCode == "" {
		storeCode = fallbackStoreCode
	}
	orderNumber := cell(colOrderNumber)
	customerName := cell(colCustomerName)
	orderDate, dateOK := normalize.Date(cell(colOrderDate))
	if storeCode == "" || orderNumber == "" || customerName == "" || !dateOK {
		return nil
	}

	stones := cell(colStones)
	carats := ""
	if m := caratRe.FindStringSubmatch(stones); m != nil {
		carats = m[1]
	}

	saleDate := ""
	if raw := cell(colSaleDate); raw != "" {
		if t, ok := normalize.Date(raw); ok {
			saleDate = t.Format(time.RFC3339)
		}
	}

	return &storage.TransactionRecord{
		ID:              uuid.New().String(),
		StoreCode:       storeCode,
		OrderNumber:     orderNumber,
		OrderDate:       orderDate.Format(time.RFC3339),
		CustomerName:    customerName,
		CustomerContact: cell(colCustomerContact),
		CustomerAddress: cell(colCustomerAddress),
		CustomerLoc:     cell(colCustomerLocation),
		ItemDetails:     cell(colItemDetails),
		ItemWeight:      cell(colItemWeight),
		Metals:          cell(colMetals),
		Engravings:      cell(colEngravings),
		Stones:          stones,
		Carats:          carats,
		Price:           cell(colPrice),
		PawnTicket:      cell(colPawnTicket),
		SaleDate:        saleDate,
		FileActivityID:  activityID,
		CreatedAt:       time.Now().UTC(),
	}
}

// StoreCodeCell returns the outlet code convention cell: first column of the
// second row (the first data row under the header), with the same offset
// correction Record applies.
func StoreCodeCell(rows [][]any) string {
	if len(rows) < 2 {
		return ""
	}
	return normalize.Cell(rows[1], rowOffset(rows[1]))
}

// rowOffset reports the one-cell left shift some sources produce: the first
// cell is missing entirely, not merely empty.
func rowOffset(values []any) int {
	if len(values) > 1 && values[0] == nil {
		return 1
	}
	return 0
}
