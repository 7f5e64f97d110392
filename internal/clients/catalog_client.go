// internal/clients/catalog_client.go
package clients

import (
	"context"
	"net/http"
	"net/url"

	"libraledger/internal/catalog"
)

type CatalogClient struct {
	base
}

// NewCatalogClient returns a client for the catalog routes mounted under
// baseURL. A nil httpClient uses http.DefaultClient.
func NewCatalogClient(baseURL string, httpClient *http.Client) *CatalogClient {
	return &CatalogClient{base: newBase(baseURL, httpClient)}
}

func (c *CatalogClient) AddCopies(ctx context.Context, req catalog.AddCopiesRequest) ([]*catalog.BookCopy, error) {
	var resp struct {
		Copies []*catalog.BookCopy `json:"copies"`
	}
	if err := c.do(ctx, http.MethodPost, "/copies", req, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return resp.Copies, nil
}

func (c *CatalogClient) GetCopy(ctx context.Context, accessionNumber, seriesCode string) (*catalog.BookCopy, error) {
	path := "/copies/" + url.PathEscape(accessionNumber)
	if seriesCode != "" {
		path += "?series=" + url.QueryEscape(seriesCode)
	}

	var bc catalog.BookCopy
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &bc); err != nil {
		return nil, err
	}
	return &bc, nil
}

func (c *CatalogClient) SetStatus(ctx context.Context, accessionNumber, seriesCode string, status catalog.Status) (*catalog.BookCopy, error) {
	req := struct {
		SeriesCode string         `json:"series_code"`
		Status     catalog.Status `json:"status"`
	}{seriesCode, status}

	var bc catalog.BookCopy
	if err := c.do(ctx, http.MethodPatch, "/copies/"+url.PathEscape(accessionNumber)+"/status", req, http.StatusOK, &bc); err != nil {
		return nil, err
	}
	return &bc, nil
}
