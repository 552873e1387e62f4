package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"pgroute/internal/config"
	"pgroute/internal/engine"
	"pgroute/internal/logger"
	"pgroute/internal/pipeline"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Event optionally narrows one invocation.
type Event struct {
	Targets []string `json:"targets,omitempty"`
	Tables  []string `json:"tables,omitempty"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type body struct {
	RunID   string          `json:"run_id,omitempty"`
	Failed  bool            `json:"failed"`
	Error   string          `json:"error,omitempty"`
	Summary *engine.Summary `json:"summary,omitempty"`
}

// marshal is swapped in tests.
var marshal = json.Marshal

const encodeFailedBody = `{"failed":true,"error":"failed to encode response"}`

func respond(log *zap.Logger, rep *engine.RunReport, runErr error, policy engine.FailPolicy) Response {
	b := body{}
	if rep != nil {
		s := rep.Summary()
		b.RunID = rep.RunID
		b.Summary = &s
		b.Failed = rep.Failed(policy)
	}
	if runErr != nil {
		b.Failed = true
		b.Error = runErr.Error()
	}

	status := http.StatusOK
	if b.Failed {
		status = http.StatusInternalServerError
	}
	data, err := marshal(b)
	if err != nil {
		log.Error("failed to encode response body", zap.Error(err))
		return Response{StatusCode: http.StatusInternalServerError, Body: encodeFailedBody}
	}
	return Response{StatusCode: status, Body: string(data)}
}

func handler(ctx context.Context, ev Event) (Response, error) {
	// used until the config says otherwise
	log, err := logger.New("info", true)
	if err != nil {
		return Response{}, err
	}
	v := config.New(os.Getenv("PGROUTE_CONFIG"))
	if err := config.Read(v); err != nil {
		return respond(log, nil, err, engine.FailOnError), nil
	}
	cfg, err := config.Load(v)
	if err != nil {
		return respond(log, nil, err, engine.FailOnError), nil
	}
	runLog, err := logger.New(cfg.Logging.Level, true)
	if err != nil {
		return respond(log, nil, err, engine.FailOnError), nil
	}
	log = runLog
	defer log.Sync()

	policy, _ := engine.ParseFailPolicy(cfg.Policy.FailOn)
	opts := pipeline.Options{Targets: ev.Targets, Tables: ev.Tables, DryRun: ev.DryRun}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		// reuse the invocation id so logs and report line up in CloudWatch
		opts.RunID = lc.AwsRequestID
		log = log.With(zap.String("aws_request_id", lc.AwsRequestID))
	}

	rep, runErr := pipeline.Run(ctx, cfg, log, opts)
	if runErr != nil {
		log.Error("run aborted", zap.Error(runErr))
	}
	return respond(log, rep, runErr, policy), nil
}

func main() {
	lambda.Start(handler)
}
