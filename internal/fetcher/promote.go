package fetcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/news"
)

// Detector flags static responses that need a browser rerun.
type Detector interface {
	ShouldPromote(page news.RawPage) bool
}

// Promoting tries the static fetcher first and reruns the page through
// a rendering fetcher when the detector flags the body as JS-gated.
// Render failures fall back to the static body rather than failing the
// URL: a shell page still parses to a schema mismatch downstream,
// which is the honest outcome.
type Promoting struct {
	static   news.Fetcher
	rendered news.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting composes the two fetchers. rendered or detect may be
// nil, which disables promotion.
func NewPromoting(static news.Fetcher, rendered news.Fetcher, detect Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, rendered: rendered, detector: detect, logger: logger}
}

// Fetch implements news.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, ref news.ArticleRef) (news.RawPage, error) {
	page, err := p.static.Fetch(ctx, ref)
	if err != nil {
		return news.RawPage{}, err
	}
	if p.rendered == nil || p.detector == nil || !p.detector.ShouldPromote(page) {
		return page, nil
	}

	promoted, err := p.rendered.Fetch(ctx, ref)
	if err != nil {
		p.logger.Warn("headless promotion failed, keeping static body",
			zap.String("url", ref.URL),
			zap.Error(err),
		)
		return page, nil
	}
	return promoted, nil
}
