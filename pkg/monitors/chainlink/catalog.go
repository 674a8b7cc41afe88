package chainlink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/praetor-io/watchtower/pkg/monitors"
	"github.com/praetor-io/watchtower/pkg/types"
)

// CatalogEntry is one feed in a weiwatchers-style contract catalog.
type CatalogEntry struct {
	ProxyAddress      string `json:"proxyAddress"`
	AggregatorAddress string `json:"contractAddress"`
	ContractVersion   int    `json:"contractVersion"`
	Name              string `json:"name"`
}

// FetchCatalog downloads and decodes the contract catalog.
func FetchCatalog(ctx context.Context, client *http.Client, url string) ([]CatalogEntry, error) {
	fail := func(err error) ([]CatalogEntry, error) {
		return nil, &monitors.ProbeError{
			Code:    types.CodeCouldNotRetrieveContracts,
			Message: fmt.Sprintf("retrieving contract catalog from %s: %v", url, err),
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("status %d", resp.StatusCode))
	}
	var entries []CatalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fail(err)
	}
	return entries, nil
}

// DiscoverAddress finds a node's operator account address by scraping
// its prometheus endpoints in order until one exposes an eth_balance
// sample carrying the account label.
func DiscoverAddress(ctx context.Context, client *http.Client, promURLs []string) (common.Address, bool) {
	for _, url := range promURLs {
		families, err := monitors.ScrapeMetrics(ctx, client, url)
		if err != nil {
			continue
		}
		fam, ok := families["eth_balance"]
		if !ok {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "account" && common.IsHexAddress(lp.GetValue()) {
					return common.HexToAddress(lp.GetValue()), true
				}
			}
		}
	}
	return common.Address{}, false
}
