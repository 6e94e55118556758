// Command scan-bench issues a batch of QR codes and then scans each of them
// from many concurrent workers, checking that every code is redeemed exactly
// once.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/tresgarza/log-u/internal/apperr"
	"github.com/tresgarza/log-u/internal/auth"
	"github.com/tresgarza/log-u/internal/model"
	"github.com/tresgarza/log-u/internal/rpc"
)

// BenchResult gathers aggregated metrics for the run. Counters are atomic to
// keep the hot path lock free. LatencySum and P95Latency are nanoseconds.
type BenchResult struct {
	TotalScans     int64
	Redeemed       int64
	AlreadyUsed    int64
	Throttled      int64
	OtherFailures  int64
	LatencySum     int64
	P95Latency     int64
	successPerCode sync.Map // code -> *int64
}

const defaultTimeout = 30 * time.Second

var opts struct {
	url          string
	secret       string
	issuer       string
	brandID      int64
	influencerID int64
	campaignID   int64
	codes        int
	scansPerCode int
	workers      int
	rps          int
	value        string
}

var rootCmd = &cobra.Command{
	Use:          "scan-bench",
	Short:        "Load test concurrent QR code redemption",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8080", "Base URL of the logu server")
	f.StringVar(&opts.secret, "jwt-secret", os.Getenv("AUTH_JWT_SECRET"), "Secret used to sign brand and influencer tokens (defaults to AUTH_JWT_SECRET)")
	f.StringVar(&opts.issuer, "issuer", envOr("AUTH_ISSUER", "logu"), "Token issuer")
	f.Int64Var(&opts.brandID, "brand-id", 0, "Brand user owning the campaign")
	f.Int64Var(&opts.influencerID, "influencer-id", 0, "Influencer user receiving the codes")
	f.Int64Var(&opts.campaignID, "campaign-id", 0, "Active campaign to issue codes for")
	f.IntVar(&opts.codes, "codes", 100, "Number of QR codes to issue")
	f.IntVar(&opts.scansPerCode, "scans-per-code", 8, "Concurrent scans fired at each code")
	f.IntVar(&opts.workers, "workers", 50, "Concurrent scanning workers")
	f.IntVar(&opts.rps, "rps", 15, "Target scans per second across all workers")
	f.StringVar(&opts.value, "value", "10.00", "Redemption value of each code")
	rootCmd.MarkFlagRequired("brand-id")
	rootCmd.MarkFlagRequired("influencer-id")
	rootCmd.MarkFlagRequired("campaign-id")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type clients struct {
	submit  *connect.Client[rpc.SubmitApplicationRequest, rpc.ApplicationResponse]
	status  *connect.Client[rpc.SetApplicationStatusRequest, rpc.ApplicationResponse]
	list    *connect.Client[rpc.ListApplicationsRequest, rpc.ListApplicationsResponse]
	issue   *connect.Client[rpc.IssueQRCodeRequest, rpc.QRCodeResponse]
	redeem  *connect.Client[rpc.VerifyAndRedeemRequest, rpc.VerifyAndRedeemResponse]
	byCamp  *connect.Client[rpc.ListCampaignQRCodesRequest, rpc.ListQRCodesResponse]
	brand   string
	creator string
}

func newClients(httpClient *http.Client) (*clients, error) {
	codec := connect.WithCodec(rpc.JSONCodec{})
	brand, err := auth.Sign(opts.secret, opts.issuer, model.Principal{ID: opts.brandID, Role: model.RoleBrand}, time.Hour)
	if err != nil {
		return nil, err
	}
	creator, err := auth.Sign(opts.secret, opts.issuer, model.Principal{ID: opts.influencerID, Role: model.RoleInfluencer}, time.Hour)
	if err != nil {
		return nil, err
	}
	return &clients{
		submit:  connect.NewClient[rpc.SubmitApplicationRequest, rpc.ApplicationResponse](httpClient, opts.url+rpc.SubmitApplicationProcedure, codec),
		status:  connect.NewClient[rpc.SetApplicationStatusRequest, rpc.ApplicationResponse](httpClient, opts.url+rpc.SetApplicationStatusProcedure, codec),
		list:    connect.NewClient[rpc.ListApplicationsRequest, rpc.ListApplicationsResponse](httpClient, opts.url+rpc.ListApplicationsProcedure, codec),
		issue:   connect.NewClient[rpc.IssueQRCodeRequest, rpc.QRCodeResponse](httpClient, opts.url+rpc.IssueQRCodeProcedure, codec),
		redeem:  connect.NewClient[rpc.VerifyAndRedeemRequest, rpc.VerifyAndRedeemResponse](httpClient, opts.url+rpc.VerifyAndRedeemProcedure, codec),
		byCamp:  connect.NewClient[rpc.ListCampaignQRCodesRequest, rpc.ListQRCodesResponse](httpClient, opts.url+rpc.ListCampaignQRCodesProcedure, codec),
		brand:   brand,
		creator: creator,
	}, nil
}

func withToken[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)
	return req
}

func run(cmd *cobra.Command, args []string) error {
	if opts.secret == "" {
		return errors.New("a signing secret is required: pass --jwt-secret or set AUTH_JWT_SECRET")
	}
	transport := &http.Transport{
		MaxIdleConns:        opts.workers * 4,
		MaxIdleConnsPerHost: opts.workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: defaultTimeout}

	c, err := newClients(httpClient)
	if err != nil {
		return fmt.Errorf("failed to sign tokens: %w", err)
	}

	ctx := cmd.Context()
	if err := ensureApproved(ctx, c); err != nil {
		return err
	}
	codes, err := issueCodes(ctx, c)
	if err != nil {
		return err
	}
	fmt.Printf("Issued %d codes for campaign %d\n", len(codes), opts.campaignID)

	fmt.Println("==========================================")
	fmt.Println("QR redemption load test")
	fmt.Println("==========================================")
	fmt.Printf("Codes          : %d\n", len(codes))
	fmt.Printf("Scans per code : %d\n", opts.scansPerCode)
	fmt.Printf("Workers        : %d\n", opts.workers)
	fmt.Printf("Target RPS     : %d\n", opts.rps)
	fmt.Println("==========================================")

	burst := opts.rps / opts.workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(opts.rps), burst)

	scans := make(chan string, opts.workers)
	go func() {
		defer close(scans)
		// each round hits every code once so scans of one code overlap
		for round := 0; round < opts.scansPerCode; round++ {
			for _, code := range codes {
				scans <- code
			}
		}
	}()

	var (
		result BenchResult
		wg     sync.WaitGroup
	)
	latencyChan := make(chan time.Duration, 4096)
	p95Done := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(p95Done)
	}()

	start := time.Now()
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for code := range scans {
				scan(ctx, c, limiter, code, &result, latencyChan)
			}
		}()
	}
	wg.Wait()
	close(latencyChan)
	<-p95Done
	totalDur := time.Since(start)

	report(&result, totalDur)

	fmt.Println("==========================================")
	fmt.Println("Redemption consistency")
	fmt.Println("==========================================")
	if err := verifyExactlyOnce(ctx, c, codes, &result); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		return err
	}
	fmt.Println("OK: every code redeemed exactly once")
	return nil
}

// ensureApproved submits an application for the influencer if needed and
// approves it.
func ensureApproved(ctx context.Context, c *clients) error {
	_, err := c.submit.CallUnary(ctx, withToken(&rpc.SubmitApplicationRequest{
		CampaignID: opts.campaignID,
		Message:    "scan-bench",
	}, c.creator))
	if kind, _ := rpc.KindOf(err); err != nil && kind != apperr.Conflict {
		return fmt.Errorf("submit application failed: %w", err)
	}

	res, err := c.list.CallUnary(ctx, withToken(&rpc.ListApplicationsRequest{CampaignID: opts.campaignID}, c.creator))
	if err != nil {
		return fmt.Errorf("list applications failed: %w", err)
	}
	if len(res.Msg.Applications) == 0 {
		return errors.New("influencer has no application for the campaign")
	}
	app := res.Msg.Applications[0]
	if app.Status == string(model.ApplicationApproved) || app.Status == string(model.ApplicationCompleted) {
		return nil
	}
	_, err = c.status.CallUnary(ctx, withToken(&rpc.SetApplicationStatusRequest{
		ApplicationID: app.ID,
		Status:        string(model.ApplicationApproved),
	}, c.brand))
	if err != nil {
		return fmt.Errorf("approve application failed: %w", err)
	}
	return nil
}

func issueCodes(ctx context.Context, c *clients) ([]string, error) {
	codes := make([]string, 0, opts.codes)
	for i := 0; i < opts.codes; i++ {
		res, err := c.issue.CallUnary(ctx, withToken(&rpc.IssueQRCodeRequest{
			CampaignID:      opts.campaignID,
			InfluencerID:    opts.influencerID,
			RedemptionValue: opts.value,
			ExpiresAt:       time.Now().Add(time.Hour),
			Metadata:        map[string]any{"source": "scan-bench", "batch_index": i},
		}, c.brand))
		if err != nil {
			return nil, fmt.Errorf("issue QR code failed: %w", err)
		}
		codes = append(codes, res.Msg.QRCode.Code)
	}
	return codes, nil
}

// scan performs one VerifyAndRedeem call, retrying while throttled by the
// server.
func scan(ctx context.Context, c *clients, limiter *rate.Limiter, code string, result *BenchResult, latencyChan chan<- time.Duration) {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		start := time.Now()
		atomic.AddInt64(&result.TotalScans, 1)
		_, err := c.redeem.CallUnary(callCtx, connect.NewRequest(&rpc.VerifyAndRedeemRequest{Code: code}))
		latency := time.Since(start)
		cancel()

		if connect.CodeOf(err) == connect.CodeResourceExhausted {
			atomic.AddInt64(&result.Throttled, 1)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
		select {
		case latencyChan <- latency:
		default:
		}

		switch kind, _ := rpc.KindOf(err); {
		case err == nil:
			atomic.AddInt64(&result.Redeemed, 1)
			n, _ := result.successPerCode.LoadOrStore(code, new(int64))
			atomic.AddInt64(n.(*int64), 1)
		case kind == apperr.AlreadyRedeemed:
			atomic.AddInt64(&result.AlreadyUsed, 1)
		default:
			atomic.AddInt64(&result.OtherFailures, 1)
		}
		return
	}
}

func report(result *BenchResult, totalDur time.Duration) {
	completed := result.TotalScans - result.Throttled
	var avgLatency time.Duration
	if completed > 0 {
		avgLatency = time.Duration(result.LatencySum / completed)
	}

	fmt.Println("==========================================")
	fmt.Println("Results")
	fmt.Println("==========================================")
	fmt.Printf("Duration        : %.2fs\n", totalDur.Seconds())
	fmt.Printf("Scan requests   : %d\n", result.TotalScans)
	fmt.Printf("Redeemed        : %d\n", result.Redeemed)
	fmt.Printf("Already used    : %d\n", result.AlreadyUsed)
	fmt.Printf("Throttled       : %d\n", result.Throttled)
	fmt.Printf("Other failures  : %d\n", result.OtherFailures)
	fmt.Printf("Completed RPS   : %.2f\n", float64(completed)/totalDur.Seconds())
	fmt.Printf("Avg latency     : %v\n", avgLatency)
	fmt.Printf("P95 latency     : %v\n", time.Duration(atomic.LoadInt64(&result.P95Latency)))
}

// trackP95 maintains a best-effort rolling P95 latency estimate.
func trackP95(latencies <-chan time.Duration, result *BenchResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	update := func() {
		sorted := slices.Clone(buf)
		slices.Sort(sorted)
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		atomic.StoreInt64(&result.P95Latency, sorted[idx])
	}

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
			// cheap reservoir replacement
			buf[idx] = lat.Nanoseconds()
		}
		if len(buf)%100 == 0 {
			update()
		}
	}
	if len(buf) > 0 {
		update()
	}
}

// verifyExactlyOnce checks the client-side tally and the server's view of
// every issued code.
func verifyExactlyOnce(ctx context.Context, c *clients, codes []string, result *BenchResult) error {
	var problems []error
	for _, code := range codes {
		var n int64
		if v, ok := result.successPerCode.Load(code); ok {
			n = atomic.LoadInt64(v.(*int64))
		}
		if n != 1 {
			problems = append(problems, fmt.Errorf("code %s redeemed %d times", code, n))
		}
	}

	res, err := c.byCamp.CallUnary(ctx, withToken(&rpc.ListCampaignQRCodesRequest{CampaignID: opts.campaignID}, c.brand))
	if err != nil {
		return fmt.Errorf("failed to list campaign codes: %w", err)
	}
	stored := make(map[string]*rpc.QRCode, len(res.Msg.QRCodes))
	for _, qr := range res.Msg.QRCodes {
		stored[qr.Code] = qr
	}
	for _, code := range codes {
		qr, ok := stored[code]
		switch {
		case !ok:
			problems = append(problems, fmt.Errorf("code %s missing on server", code))
		case qr.Status != string(model.QRCodeUsed) || qr.UsedAt == nil:
			problems = append(problems, fmt.Errorf("code %s stored as %s", code, qr.Status))
		}
	}

	fmt.Printf("Codes issued             : %d\n", len(codes))
	fmt.Printf("Successful scans (client): %d\n", result.Redeemed)
	fmt.Printf("Expected successes       : %d\n", len(codes))
	return errors.Join(problems...)
}
