package app_test

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelpress/pixelpress/adapters/clock"
	"github.com/pixelpress/pixelpress/adapters/gate"
	"github.com/pixelpress/pixelpress/adapters/idgen"
	"github.com/pixelpress/pixelpress/adapters/memory"
	"github.com/pixelpress/pixelpress/adapters/metrics"
	"github.com/pixelpress/pixelpress/app"
	"github.com/pixelpress/pixelpress/domain/credential"
	"github.com/pixelpress/pixelpress/domain/job"
	"github.com/pixelpress/pixelpress/domain/plan"
	"github.com/pixelpress/pixelpress/domain/quota"
	"github.com/pixelpress/pixelpress/domain/sandbox"
	"github.com/pixelpress/pixelpress/domain/usage"
	"github.com/pixelpress/pixelpress/ports"
)

// Prometheus metrics register globally, so a single collector is shared by
// every test in the package.
var testMetrics = metrics.New()

var testTime = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

// stubProcessor returns canned output without decoding anything.
type stubProcessor struct {
	mu        sync.Mutex
	processed int
	failWith  error
	block     chan struct{} // when set, Process waits for ctx or the channel
}

func (p *stubProcessor) Probe(data []byte) (job.ImageMeta, error) {
	return job.ImageMeta{
		Size:   int64(len(data)),
		Format: "png",
		Width:  100,
		Height: 100,
	}, nil
}

func (p *stubProcessor) Process(ctx context.Context, data []byte, params job.Params) ([]byte, job.ImageMeta, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, job.ImageMeta{}, ctx.Err()
		}
	}
	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
	if p.failWith != nil {
		return nil, job.ImageMeta{}, p.failWith
	}
	out := data[:len(data)/2]
	return out, job.ImageMeta{Size: int64(len(out)), Format: "png", Width: 100, Height: 100}, nil
}

func (p *stubProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

// captureRecorder collects usage events synchronously.
type captureRecorder struct {
	mu     sync.Mutex
	events []usage.Event
}

func (r *captureRecorder) Record(e usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) Flush(ctx context.Context) error { return nil }
func (r *captureRecorder) Close() error                    { return nil }

func (r *captureRecorder) all() []usage.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]usage.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *captureRecorder) lastOutcome() usage.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ""
	}
	return r.events[len(r.events)-1].Outcome
}

var _ ports.Processor = (*stubProcessor)(nil)
var _ ports.UsageRecorder = (*captureRecorder)(nil)

func testCatalog() *plan.Catalog {
	return plan.NewCatalog([]plan.Limits{
		{
			Tier:           "free",
			MaxFileSize:    5 << 20,
			MaxPixels:      16_000_000,
			MaxOperations:  1,
			MonthlyLimit:   500,
			AllowedFormats: []string{"jpg", "jpeg", "png", "webp"},
		},
		{
			Tier:           "pro",
			MaxFileSize:    25 << 20,
			MaxPixels:      64_000_000,
			MaxOperations:  3,
			MonthlyLimit:   10000,
			RateLimit:      2,
			RateWindow:     time.Minute,
			AllowedFormats: []string{"jpg", "jpeg", "png", "webp", "gif"},
		},
	})
}

// sandboxCapConfig returns a config whose sandbox daily cap is n.
func sandboxCapConfig(n int64) app.DynamicConfig {
	limits := sandbox.DefaultLimits()
	limits.DailyLimit = n
	return app.DynamicConfig{
		Catalog:       testCatalog(),
		Mode:          quota.EnforceHard,
		SandboxLimits: limits,
	}
}

// softConfig returns a config under soft enforcement.
func softConfig() app.DynamicConfig {
	return app.DynamicConfig{
		Catalog:       testCatalog(),
		Mode:          quota.EnforceSoft,
		SandboxLimits: sandbox.DefaultLimits(),
	}
}

// fixture wires an admission pipeline over in-memory stores.
type fixture struct {
	admission *app.AdmissionService
	ledger    *app.LedgerService
	creds     *memory.CredentialStore
	processor *stubProcessor
	recorder  *captureRecorder
	clock     *clock.Fake
	gate      *gate.Gate
	rawKey    string
	keyID     string
}

type fixtureOpts struct {
	mode         quota.EnforceMode
	gateCapacity int64
	monthlyLimit int64
	monthlyUsed  int64
	purchased    int64
	planTier     string
}

func newFixture(opts fixtureOpts) *fixture {
	if opts.mode == "" {
		opts.mode = quota.EnforceHard
	}
	if opts.gateCapacity == 0 {
		opts.gateCapacity = 4
	}
	if opts.planTier == "" {
		opts.planTier = "free"
	}

	fakeClock := clock.NewFake(testTime)
	ids := idgen.NewSequential("id")
	creds := memory.NewCredentialStore()
	g := gate.New(opts.gateCapacity)
	proc := &stubProcessor{}
	rec := &captureRecorder{}
	log := zerolog.Nop()

	ledger := app.NewLedgerService(creds, fakeClock, ids, testMetrics, log)
	admission := app.NewAdmissionService(app.AdmissionDeps{
		Creds:     creds,
		Ledger:    ledger,
		Gate:      g,
		Processor: proc,
		RateLimit: memory.NewRateLimitStore(memory.RateLimitStoreConfig{}),
		Sandboxes: memory.NewSandboxCounter(memory.SandboxCounterConfig{}),
		Usage:     rec,
		Clock:     fakeClock,
		IDGen:     ids,
		Metrics:   testMetrics,
		Log:       log,
	}, app.DynamicConfig{
		Catalog:       testCatalog(),
		Mode:          opts.mode,
		SandboxLimits: sandbox.DefaultLimits(),
	})

	rawKey, cred := credential.Generate("tenant_1", opts.planTier, false)
	cred.MonthlyLimit = opts.monthlyLimit
	cred.MonthlyUsed = opts.monthlyUsed
	cred.PurchasedCredits = opts.purchased
	cred.ResetAt = testTime.AddDate(0, 0, 17)
	creds.Create(context.Background(), cred)

	return &fixture{
		admission: admission,
		ledger:    ledger,
		creds:     creds,
		processor: proc,
		recorder:  rec,
		clock:     fakeClock,
		gate:      g,
		rawKey:    rawKey,
		keyID:     cred.ID,
	}
}

func (f *fixture) request() job.Request {
	return job.Request{
		APIKey:    f.rawKey,
		Data:      make([]byte, 1024),
		Filename:  "test.png",
		RemoteIP:  "1.2.3.4",
		UserAgent: "test-agent",
		RequestID: "req_1",
	}
}

func (f *fixture) credential() credential.Credential {
	c, _ := f.creds.Get(context.Background(), f.keyID)
	return c
}
