// Package export renders ledger data as spreadsheet files.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"go-inventory-ledger/internal/model"
)

const transactionsSheet = "Transactions"

var transactionHeader = []interface{}{
	"id",
	"date",
	"type",
	"status",
	"product_id",
	"product_name",
	"quantity",
	"total_price",
	"supplier_id",
	"description",
	"note",
}

// TransactionsXLSX writes one row per transaction. productNames resolves
// product ids; deleted products are written with an empty name.
func TransactionsXLSX(txs []model.Transaction, productNames map[uint]string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), transactionsSheet); err != nil {
		return nil, fmt.Errorf("export: sheet: %w", err)
	}

	header := transactionHeader
	if err := f.SetSheetRow(transactionsSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("export: header: %w", err)
	}

	for i, tx := range txs {
		var supplier interface{}
		if tx.SupplierID != nil {
			supplier = *tx.SupplierID
		}
		amount, _ := tx.TotalPrice.Float64()
		row := []interface{}{
			tx.ID,
			tx.Date,
			string(tx.Type),
			string(tx.Status),
			tx.ProductID,
			productNames[tx.ProductID],
			tx.Quantity,
			amount,
			supplier,
			tx.Description,
			tx.Note,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("export: cell: %w", err)
		}
		if err := f.SetSheetRow(transactionsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("export: row %d: %w", i+2, err)
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("export: write: %w", err)
	}
	return buf.Bytes(), nil
}
