package tracker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type AnnounceResult struct {
	TrackerUrl string
	Response   AnnounceResponse
	Err        error
}

// Limits trackers announced to at once by AnnounceAll.
const maxConcurrentAnnounces = 16

// AnnounceAll announces req to each tracker concurrently. Each tracker gets its own client, and
// failing trackers don't affect the others. Results are in the order of urls.
func AnnounceAll(ctx context.Context, urls []string, req AnnounceRequest, opts NewClientOpts) []AnnounceResult {
	ret := make([]AnnounceResult, len(urls))
	var eg errgroup.Group
	eg.SetLimit(maxConcurrentAnnounces)
	for i, u := range urls {
		eg.Go(func() error {
			resp, err := Announce{
				TrackerUrl: u,
				Request:    req,
				UdpNetwork: opts.UdpNetwork,
				Limiter:    opts.Limiter,
				Logger:     opts.Logger,
			}.Do(ctx)
			ret[i] = AnnounceResult{
				TrackerUrl: u,
				Response:   resp,
				Err:        err,
			}
			return nil
		})
	}
	eg.Wait()
	return ret
}
