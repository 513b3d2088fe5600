package docker

import (
	"context"
	"errors"
	"io"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"go.uber.org/zap"

	"github.com/sudankdk/aoc-runner/internal/metrics"
	"github.com/sudankdk/aoc-runner/internal/model"
)

// EnsureImage makes ref available locally, pulling it once if missing.
// Concurrent calls for the same ref share a single pull, which outlives
// any one caller's ctx and is bounded by the pull timeout instead.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	if _, err := c.d.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	ch := c.pulls.DoChan(ref, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.pullTimeout)
		defer cancel()
		return nil, c.pull(pctx, ref)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return model.Wrap(model.ErrCancelled, "pull "+ref, ctx.Err())
	}
}

func (c *Client) pull(ctx context.Context, ref string) error {
	log := c.log.With(zap.String("image", ref))
	log.Info("pulling image")

	out, err := c.d.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		metrics.ImagePulls.WithLabelValues("failed").Inc()
		return model.Wrap(model.ErrImageUnavailable, "pull "+ref, err)
	}
	defer out.Close()

	// the pull only finishes once the progress stream is fully read
	if err := jsonmessage.DisplayJSONMessagesStream(out, io.Discard, 0, false, nil); err != nil {
		metrics.ImagePulls.WithLabelValues("failed").Inc()
		return model.Wrap(model.ErrImageUnavailable, "pull "+ref, err)
	}
	metrics.ImagePulls.WithLabelValues("ok").Inc()
	log.Info("image pulled")
	return nil
}

// PreWarm ensures every image up front so the first submission of each
// language does not pay for the pull.
func (c *Client) PreWarm(ctx context.Context, images []string) error {
	var errs []error
	for _, ref := range images {
		if err := c.EnsureImage(ctx, ref); err != nil {
			c.log.Warn("prewarm failed", zap.String("image", ref), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
