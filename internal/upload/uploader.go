// Package upload is the stateful client of the remote log API: it manages
// a log stream's sequence token, performs the PutLogEvents RPC, and
// recovers the token on failure.
//
// # Sequence Token Protocol
//
// CloudWatch Logs requires each PutLogEvents call to carry the token
// returned by the previous successful call for the same stream. At
// construction the Uploader calls refreshToken, which describes the
// stream (creating it first if absent) and extracts its current
// UploadSequenceToken. On a successful put, the response's
// NextSequenceToken replaces the stored token. On a failed put, the
// Uploader logs the error, resynchronizes via refreshToken, and drops the
// failing sub-batch — the next incoming batch proceeds with the
// refreshed token. This is a deliberate at-most-once ship policy; see the
// package-level design notes in the repository root for the tradeoff.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/offbyone/journald-to-cloudwatch/pkg/types"
)

// state names the Uploader's position in the small state machine
// described in the spec: Init, Ready, Failed. There are no terminal
// states; the process runs indefinitely.
type state int

const (
	stateInit state = iota
	stateReady
	stateFailed
)

// CloudWatchLogsAPI is the subset of the CloudWatch Logs client this
// package depends on; satisfied by *cloudwatchlogs.Client and by test
// doubles.
type CloudWatchLogsAPI interface {
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// TokenCache is an optional best-effort hint source for the initial
// sequence token, consulted once at construction. A miss, an error, or a
// nil TokenCache are all equivalent to having no hint: refreshToken is
// always the source of truth.
type TokenCache interface {
	Get(ctx context.Context, streamKey string) (token string, ok bool)
	Set(ctx context.Context, streamKey, token string)
}

// DropSink is an optional audit trail for sub-batches the Uploader could
// not deliver. It is write-only and never consulted by the delivery path.
type DropSink interface {
	RecordDrop(ctx context.Context, rec types.DropRecord)
}

// Config configures an Uploader.
type Config struct {
	Client       CloudWatchLogsAPI
	LogGroupName string
	StreamName   string

	// PutEventsPerSecond paces PutLogEvents calls to stay under
	// CloudWatch Logs' per-stream request quota.
	PutEventsPerSecond float64

	TokenCache TokenCache // optional
	DropSink   DropSink   // optional
	Logger     *slog.Logger
}

// Uploader is the stateful client described above. One Uploader owns
// exactly one log stream and is itself owned by exactly one Batcher, so
// its mutable state needs no lock beyond the one guarding concurrent
// calls from that single owner.
type Uploader struct {
	client       CloudWatchLogsAPI
	logGroupName string
	streamName   string
	limiter      *rate.Limiter
	tokenCache   TokenCache
	dropSink     DropSink
	logger       *slog.Logger

	mu            sync.Mutex
	sequenceToken *string
	state         state
}

// New constructs an Uploader and runs the discover-or-create probe
// (refreshToken) before returning, so the first Upload call already has
// a usable sequence token state.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rateLimit := cfg.PutEventsPerSecond
	if rateLimit <= 0 {
		rateLimit = 5
	}

	u := &Uploader{
		client:       cfg.Client,
		logGroupName: cfg.LogGroupName,
		streamName:   cfg.StreamName,
		limiter:      rate.NewLimiter(rate.Limit(rateLimit), 1),
		tokenCache:   cfg.TokenCache,
		dropSink:     cfg.DropSink,
		logger:       logger,
		state:        stateInit,
	}

	if u.tokenCache != nil {
		if hint, ok := u.tokenCache.Get(ctx, u.streamKey()); ok {
			u.sequenceToken = aws.String(hint)
			u.logger.Debug("seeded sequence token from cache hint", "stream", u.streamName)
		}
	}

	u.refreshToken(ctx)
	return u, nil
}

func (u *Uploader) streamKey() string {
	return fmt.Sprintf("%s/%s", u.logGroupName, u.streamName)
}

// Upload splits events into sub-batches that each respect the 16-hour
// window rule, then sends each sub-batch as one PutLogEvents RPC,
// strictly sequentially so that earlier sub-batches land before later
// ones.
func (u *Uploader) Upload(ctx context.Context, events []types.LogEvent) {
	groups := groupByWindow(events)
	for _, group := range groups {
		u.put(ctx, group)
	}
}

// put sends one sub-batch. On success it stores the next sequence token.
// On failure it logs, records an optional drop, and resynchronizes the
// token via refreshToken; the failing sub-batch is not retried.
func (u *Uploader) put(ctx context.Context, events []types.LogEvent) {
	if len(events) == 0 {
		return
	}

	if err := u.limiter.Wait(ctx); err != nil {
		u.logger.Warn("rate limiter wait aborted", "error", err)
		return
	}

	u.mu.Lock()
	token := u.sequenceToken
	u.mu.Unlock()

	input := &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(u.logGroupName),
		LogStreamName: aws.String(u.streamName),
		LogEvents:     toInputLogEvents(events),
	}
	if token != nil {
		input.SequenceToken = token
	}

	out, err := u.client.PutLogEvents(ctx, input)
	if err != nil {
		u.logger.Error("put log events failed", "stream", u.streamName, "events", len(events), "error", err)
		u.recordDrop(ctx, events, err)

		u.mu.Lock()
		u.state = stateFailed
		u.mu.Unlock()

		u.refreshToken(ctx)
		return
	}

	u.mu.Lock()
	u.sequenceToken = out.NextSequenceToken
	u.state = stateReady
	u.mu.Unlock()

	if u.tokenCache != nil && out.NextSequenceToken != nil {
		u.tokenCache.Set(ctx, u.streamKey(), *out.NextSequenceToken)
	}
}

// refreshToken describes the stream, creating it first if it does not
// exist, and extracts its current UploadSequenceToken. It always exits to
// Ready, regardless of whether a token was found, matching the state
// table in the package design notes.
func (u *Uploader) refreshToken(ctx context.Context) {
	stream, err := u.describeStream(ctx)
	if err != nil {
		u.logger.Warn("describe log stream failed", "stream", u.streamName, "error", err)
	}

	if stream == nil {
		if err := u.createStream(ctx); err != nil {
			u.logger.Warn("create log stream failed", "stream", u.streamName, "error", err)
		}
		stream, err = u.describeStream(ctx)
		if err != nil {
			u.logger.Warn("describe log stream after create failed", "stream", u.streamName, "error", err)
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if stream != nil {
		u.sequenceToken = stream.UploadSequenceToken
	} else {
		u.logger.Warn("log stream still absent after refresh", "stream", u.streamKey())
	}
	u.state = stateReady
}

func (u *Uploader) describeStream(ctx context.Context) (*cwtypes.LogStream, error) {
	out, err := u.client.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(u.logGroupName),
		LogStreamNamePrefix: aws.String(u.streamName),
		Limit:               aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("describing log streams: %w", err)
	}
	for _, s := range out.LogStreams {
		if aws.ToString(s.LogStreamName) == u.streamName {
			return &s, nil
		}
	}
	return nil, nil
}

func (u *Uploader) createStream(ctx context.Context) error {
	_, err := u.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(u.logGroupName),
		LogStreamName: aws.String(u.streamName),
	})
	if err != nil {
		return fmt.Errorf("creating log stream: %w", err)
	}
	return nil
}

func (u *Uploader) recordDrop(ctx context.Context, events []types.LogEvent, cause error) {
	if u.dropSink == nil {
		return
	}
	rec := types.DropRecord{
		ID:         uuid.NewString(),
		Stream:     u.streamKey(),
		EventCount: len(events),
		FirstTsMs:  events[0].Timestamp,
		LastTsMs:   events[len(events)-1].Timestamp,
		Reason:     cause.Error(),
		OccurredAt: time.Now().UnixMilli(),
	}
	u.dropSink.RecordDrop(ctx, rec)
}

func toInputLogEvents(events []types.LogEvent) []cwtypes.InputLogEvent {
	out := make([]cwtypes.InputLogEvent, len(events))
	for i, e := range events {
		out[i] = cwtypes.InputLogEvent{
			Message:   aws.String(e.Message),
			Timestamp: aws.Int64(e.Timestamp),
		}
	}
	return out
}
