package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"OutlierScope/internal/domain/models"
	"OutlierScope/internal/service/stream"
	"OutlierScope/internal/services/detection"
	"OutlierScope/internal/services/outlierclient"
	"OutlierScope/internal/usecase"
	"OutlierScope/pkg/logger"
	"OutlierScope/pkg/metrics"
)

type options struct {
	mode        string
	addr        string
	n           int
	outlierFrac float64
	seed        uint64
	method      string
	iterations  int
	timeout     time.Duration
	asJSON      bool
	verbose     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "outlierctl",
		Short: "Run a detection on a synthetic series and score it",
		Long: `Generates a seeded synthetic series with injected outliers, detects them
over HTTP, the websocket stream, the job queue or in process, and prints
recall and false positives against the injected indices.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDetect(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	f := root.Flags()
	f.StringVar(&o.mode, "mode", "local", "http, ws, job or local")
	f.IntVar(&o.n, "n", 360, "series length")
	f.Float64Var(&o.outlierFrac, "outlier-frac", 0.1, "share of points to distort")
	f.Uint64Var(&o.seed, "seed", 1, "random seed")
	f.StringVar(&o.method, "method", "trend", "detection method")
	f.IntVar(&o.iterations, "iterations", 10, "maximum iterations")
	f.BoolVar(&o.asJSON, "json", false, "print the full response as JSON")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "print iteration frames in ws mode")
	root.PersistentFlags().StringVar(&o.addr, "addr", "http://localhost:8080", "API base URL")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", time.Minute, "overall timeout")

	root.AddCommand(newRunCmd(o))
	return root
}

func newRunCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Fetch a persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			rec, err := outlierclient.New(o.addr).GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func runDetect(ctx context.Context, w io.Writer, o *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	local := usecase.NewDetectOutliers(detection.NewDispatcher(), nil, nil,
		metrics.New(prometheus.NewRegistry()), logger.NewNop(),
		usecase.DetectConfig{MaxConcurrent: 1, Timeout: o.timeout})
	ex := local.Example(models.ExampleRequest{N: o.n, OutlierFrac: o.outlierFrac, Seed: o.seed, Method: o.method})
	ex.Request.MaxIterations = o.iterations

	var (
		resp *models.DetectResponse
		err  error
	)
	start := time.Now()
	switch o.mode {
	case "local":
		resp, err = local.Execute(ctx, ex.Request)
	case "http":
		resp, err = outlierclient.New(o.addr, outlierclient.WithRetries(3, 200*time.Millisecond)).Detect(ctx, ex.Request)
	case "job":
		c := outlierclient.New(o.addr)
		var id string
		if id, err = c.SubmitJob(ctx, ex.Request); err == nil {
			fmt.Fprintf(w, "job %s queued\n", id)
			resp, err = c.WaitJob(ctx, id, 250*time.Millisecond)
		}
	case "ws":
		resp, err = detectStream(ctx, w, o, ex.Request)
	default:
		return fmt.Errorf("unknown mode %q", o.mode)
	}
	if err != nil {
		return err
	}
	took := time.Since(start)

	if o.asJSON {
		return printJSON(w, resp)
	}
	s := score(resp.Outliers, ex.Injected)
	fmt.Fprintf(w, "method=%s state=%s iterations=%d took=%s\n", resp.Method, resp.State, resp.Iterations, took.Round(time.Millisecond))
	fmt.Fprintf(w, "injected=%d flagged=%d found=%d recall=%.3f false_positives=%d\n",
		len(ex.Injected), s.Flagged, s.Found, s.Recall, s.FalsePositives)
	if len(s.Missed) > 0 {
		fmt.Fprintf(w, "missed=%v\n", s.Missed)
	}
	return nil
}

func detectStream(ctx context.Context, w io.Writer, o *options, req models.DetectRequest) (*models.DetectResponse, error) {
	c := stream.New(o.addr)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Detect(ctx, req, func(f models.StreamFrame) {
		if o.verbose {
			fmt.Fprintf(w, "iteration %d: new=%d total=%d state=%s\n", f.Iteration, f.NewOutliers, f.TotalOutliers, f.State)
		}
	})
}

type scoreCard struct {
	Flagged        int
	Found          int
	FalsePositives int
	Recall         float64
	Missed         []int
}

// score compares flagged points with the injected indices. Recall is 1 when nothing was injected.
func score(flags []bool, injected []int) scoreCard {
	want := make(map[int]bool, len(injected))
	for _, i := range injected {
		want[i] = true
	}
	var s scoreCard
	for i, f := range flags {
		if !f {
			continue
		}
		s.Flagged++
		if want[i] {
			s.Found++
		} else {
			s.FalsePositives++
		}
	}
	for _, i := range injected {
		if i >= len(flags) || !flags[i] {
			s.Missed = append(s.Missed, i)
		}
	}
	sort.Ints(s.Missed)
	s.Recall = 1
	if len(injected) > 0 {
		s.Recall = float64(s.Found) / float64(len(injected))
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
