package sheets

import (
	"context"
	"fmt"

	sheetsv4 "google.golang.org/api/sheets/v4"

	"meetup-bot/internal/models"
)

// ExportUsers replaces the sheet contents with the header and one row per
// user. It returns the spreadsheet link.
func (c *Client) ExportUsers(ctx context.Context, users []models.User) (string, error) {
	_, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, c.rangeFor("A:Z"), &sheetsv4.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("clear sheet: %w", err)
	}

	vr := &sheetsv4.ValueRange{Values: userRows(users)}
	_, err = c.srv.Spreadsheets.Values.Update(c.spreadsheetID, c.rangeFor("A1"), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("update sheet: %w", err)
	}
	return c.URL(), nil
}

func userRows(users []models.User) [][]interface{} {
	rows := make([][]interface{}, 0, len(users)+1)
	rows = append(rows, toRow(models.UserHeader))
	for i := range users {
		rows = append(rows, toRow(users[i].Record()))
	}
	return rows
}

func toRow(cells []string) []interface{} {
	row := make([]interface{}, len(cells))
	for i, v := range cells {
		row[i] = v
	}
	return row
}
