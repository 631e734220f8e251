package pubchem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"toxfetch/internal/model"
)

// viewResolve labels resolution requests in logs and metrics.
const viewResolve model.ViewType = "resolve"

type cidList struct {
	IdentifierList *struct {
		CID []int64 `json:"CID"`
	} `json:"IdentifierList"`
}

// ResolveCID maps a CAS registry number to the first PubChem compound ID.
// The number is forwarded as given; PubChem decides whether it is valid.
// A CAS unknown to PubChem yields a *ResolutionError wrapping ErrNotFound.
func (c *Client) ResolveCID(ctx context.Context, cas string) (int64, error) {
	cas = strings.TrimSpace(cas)
	if cas == "" {
		return 0, &ResolutionError{CAS: cas, Err: fmt.Errorf("empty registry number: %w", ErrNotFound)}
	}
	u := fmt.Sprintf("%s/compound/name/%s/cids/JSON", c.baseURL, escape(cas))

	body, err := c.get(ctx, viewResolve, u)
	if err != nil {
		return 0, &ResolutionError{CAS: cas, Err: err}
	}

	var list cidList
	if err := json.Unmarshal(body, &list); err != nil {
		return 0, &ResolutionError{CAS: cas, Err: fmt.Errorf("decode CID list: %w", err)}
	}
	if list.IdentifierList == nil || len(list.IdentifierList.CID) == 0 || list.IdentifierList.CID[0] <= 0 {
		return 0, &ResolutionError{CAS: cas, Err: ErrNotFound}
	}
	cid := list.IdentifierList.CID[0]
	c.logger.Debug().Str("cas", cas).Int64("cid", cid).Int("candidates", len(list.IdentifierList.CID)).Msg("Resolved CAS")
	return cid, nil
}
