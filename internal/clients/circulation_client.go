// internal/clients/circulation_client.go
package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"libraledger/internal/circulation"
)

type CirculationClient struct {
	base
}

func NewCirculationClient(baseURL string, httpClient *http.Client) *CirculationClient {
	return &CirculationClient{base: newBase(baseURL, httpClient)}
}

func (c *CirculationClient) Issue(ctx context.Context, req circulation.IssueRequest) (*circulation.IssueRecord, error) {
	var rec circulation.IssueRecord
	if err := c.do(ctx, http.MethodPost, "/issue", req, http.StatusCreated, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Return closes an issue record. A zero returnDate lets the server use now.
func (c *CirculationClient) Return(ctx context.Context, issueID uuid.UUID, returnDate time.Time) (*circulation.IssueRecord, error) {
	req := struct {
		IssueRecordID uuid.UUID `json:"issue_record_id"`
		ReturnDate    time.Time `json:"return_date"`
	}{issueID, returnDate}

	var rec circulation.IssueRecord
	if err := c.do(ctx, http.MethodPost, "/return", req, http.StatusOK, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *CirculationClient) GetIssue(ctx context.Context, issueID uuid.UUID) (*circulation.IssueRecord, error) {
	var rec circulation.IssueRecord
	if err := c.do(ctx, http.MethodGet, "/issues/"+issueID.String(), nil, http.StatusOK, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ActiveIssues fetches open records evaluated at at, or at the server's
// clock when at is zero.
func (c *CirculationClient) ActiveIssues(ctx context.Context, at time.Time) ([]circulation.ActiveIssue, error) {
	path := "/active"
	if !at.IsZero() {
		path += "?at=" + url.QueryEscape(at.Format(time.RFC3339))
	}

	var active []circulation.ActiveIssue
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &active); err != nil {
		return nil, err
	}
	return active, nil
}
