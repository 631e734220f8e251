package pubchem

import (
	"context"
	"fmt"

	"toxfetch/internal/model"
)

// ViewURL returns the request URL for one view of a compound.
func (c *Client) ViewURL(cid int64, view model.ViewType) (string, error) {
	switch view {
	case model.ViewCompound:
		return fmt.Sprintf("%s/data/compound/%d/JSON", c.viewURL, cid), nil
	case model.ViewProperties:
		return fmt.Sprintf("%s/compound/cid/%d/property/IUPACName,CanonicalSMILES/JSON", c.baseURL, cid), nil
	case model.ViewGHS:
		return fmt.Sprintf("%s/data/compound/%d/JSON?response_type=display&heading=GHS+Classification", c.viewURL, cid), nil
	default:
		return "", fmt.Errorf("unknown view type '%s'", view)
	}
}

// Fetch retrieves one data view for a compound.
//
// Server errors, rate limiting and "still processing" responses are retried
// according to the client's RetryPolicy. A 404 yields a *FetchError wrapping
// ErrNotFound; exhausted retries yield a *FetchError wrapping ErrRetryExhausted.
func (c *Client) Fetch(ctx context.Context, cid int64, view model.ViewType) (model.RawView, error) {
	u, err := c.ViewURL(cid, view)
	if err != nil {
		return model.RawView{}, err
	}
	body, err := c.get(ctx, view, u)
	if err != nil {
		return model.RawView{}, err
	}
	return model.RawView{View: view, CID: cid, Body: body}, nil
}
