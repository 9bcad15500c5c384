// Package sheets exports the participant list to a Google spreadsheet.
package sheets

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

type Client struct {
	srv           *sheetsv4.Service
	spreadsheetID string
	sheetName     string
}

// New builds a client from service account credentials. An empty sheetName
// targets the first sheet of the spreadsheet.
func New(ctx context.Context, credentialsJSON []byte, spreadsheetID, sheetName string) (*Client, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is empty")
	}
	srv, err := sheetsv4.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheetsv4.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{srv: srv, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// URL is the browser link to the spreadsheet.
func (c *Client) URL() string {
	return "https://docs.google.com/spreadsheets/d/" + c.spreadsheetID
}

func (c *Client) rangeFor(a1 string) string {
	return rangeFor(c.sheetName, a1)
}

func rangeFor(sheet, a1 string) string {
	if sheet == "" {
		return a1
	}
	return "'" + sheet + "'!" + a1
}
