// Copyright 2025 James Ross
package reportformat

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestSpreadsheetProducesNonEmptyWorkbook(t *testing.T) {
	it := rowsOf(
		bson.D{{Key: "status", Value: "paid"}, {Key: "amount", Value: 10}},
		bson.D{{Key: "status", Value: "pending"}, {Key: "amount", Value: 20}},
	)
	res := Spreadsheet(context.Background(), it, Options{})
	require.Equal(t, "xlsx", res.Extension)
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NotEmpty(t, b)
	// An xlsx file is a zip archive; verify the local file header magic.
	require.Equal(t, []byte{'P', 'K'}, b[:2])
}

func TestSpreadsheetEmptyInput(t *testing.T) {
	res := Spreadsheet(context.Background(), rowsOf(), Options{})
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NotEmpty(t, b)
}
