package fetcher

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func buildWorkbook(t *testing.T, sheets map[string][][]string) *xlsx.File {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, v := range rowData {
				row.AddCell().SetString(v)
			}
		}
	}
	return f
}

func priceSheet() [][]string {
	return [][]string{
		{"Model", "SWAP / HSO", "Grade A", "Grade B", "Grade C", "Grade D", "DOA"},
		{"iPhone 15 128GB Unlocked", "$520", "$480", "$430", " $390 ", "$300", "$120"},
	}
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atlas.xlsx")
	require.NoError(t, buildWorkbook(t, map[string][][]string{"Prices": priceSheet()}).Save(path))

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "SWAP / HSO", rows[0][1])
	assert.Equal(t, "$390", rows[1][4], "cells are trimmed")
}

func TestReadXLSXBytes_SheetName(t *testing.T) {
	f := buildWorkbook(t, map[string][][]string{
		"Notes":  {{"Updated weekly"}},
		"Prices": priceSheet(),
	})
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	rows, err := ReadXLSXBytes(buf.Bytes(), XLSXOptions{SheetName: "Prices"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "iPhone 15 128GB Unlocked", rows[1][0])

	_, err = ReadXLSXBytes(buf.Bytes(), XLSXOptions{SheetName: "Missing"})
	assert.ErrorContains(t, err, `sheet "Missing" not found`)

	_, err = ReadXLSXBytes(buf.Bytes(), XLSXOptions{SheetIndex: 5})
	assert.ErrorContains(t, err, "out of range")
}

func TestReadXLSX_Errors(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "missing.xlsx"), XLSXOptions{})
	assert.ErrorContains(t, err, "xlsx: open file")

	_, err = ReadXLSXBytes([]byte("Model,DOA\n"), XLSXOptions{})
	assert.ErrorContains(t, err, "xlsx: open workbook")
}
