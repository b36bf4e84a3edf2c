package renderer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/observability"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/resilience"
	"github.com/boddenberg/receipt-assistant-go/internal/port"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("infra/renderer")

const (
	pageWidth       = 800
	pngScale        = 2
	networkIdleWait = 500 * time.Millisecond
)

// RodRenderer launches a fresh headless Chromium per render. Concurrency is
// capped by a bulkhead and every render is bounded by timeout.
type RodRenderer struct {
	bin      string
	timeout  time.Duration
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
}

var _ port.Renderer = (*RodRenderer)(nil)

// NewRodRenderer uses the browser at bin, or lets rod download one when bin is empty.
func NewRodRenderer(bin string, timeout time.Duration, maxConcurrent int, metrics *observability.Metrics, logger *zap.Logger) *RodRenderer {
	return &RodRenderer{
		bin:      bin,
		timeout:  timeout,
		bulkhead: resilience.NewBulkhead(maxConcurrent),
		metrics:  metrics,
		logger:   logger,
	}
}

// Render loads url and captures it. The page, browser and launcher are
// closed on every exit path.
func (r *RodRenderer) Render(ctx context.Context, url string, format domain.OutputFormat) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "RodRenderer.Render")
	defer span.End()
	span.SetAttributes(attribute.String("render.format", string(format)))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: "render queue"}
	}
	defer r.bulkhead.Release()

	start := time.Now()
	out, err := r.render(ctx, url, format)
	r.metrics.RecordDuration("render", time.Since(start))
	if err != nil {
		r.metrics.IncrExternalError("renderer")
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.ErrTimeout{Operation: "render"}
		}
		return nil, &domain.ErrExternalService{Service: "renderer", Err: err}
	}

	r.metrics.IncrRendered(string(format))
	span.SetAttributes(attribute.Int("render.bytes", len(out)))
	return out, nil
}

func (r *RodRenderer) render(ctx context.Context, url string, format domain.OutputFormat) ([]byte, error) {
	l := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true).
		Set(flags.Flag("disable-dev-shm-usage")).
		Set(flags.Flag("disable-gpu"))
	if r.bin != "" {
		l = l.Bin(r.bin)
	}
	defer l.Cleanup()
	defer l.Kill()

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			r.logger.Debug("browser close", zap.Error(err))
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if format == domain.FormatImage {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             pageWidth,
			Height:            10,
			DeviceScaleFactor: pngScale,
		})
		if err != nil {
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	wait := page.WaitRequestIdle(networkIdleWait, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	wait()

	if format == domain.FormatPDF {
		width := float64(pageWidth) / 96 // inches at CSS 96 dpi
		stream, err := page.PDF(&proto.PagePrintToPDF{
			PrintBackground: true,
			PaperWidth:      &width,
		})
		if err != nil {
			return nil, fmt.Errorf("print pdf: %w", err)
		}
		defer stream.Close()
		return io.ReadAll(stream)
	}

	return page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}
