// Command restctl performs one REST call through the rate-limited client, or
// hands it to a running relay with -relay, and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"restdispatch/internal/core/config"
	"restdispatch/internal/core/cookiestore"
	natscore "restdispatch/internal/core/nats"
	"restdispatch/internal/core/redis"
	"restdispatch/internal/core/rest"
	"restdispatch/internal/shared/logs"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type fileList []string

func (f *fileList) String() string     { return strings.Join(*f, ",") }
func (f *fileList) Set(v string) error { *f = append(*f, v); return nil }

type options struct {
	method   string
	path     string
	data     string
	reason   string
	noAuth   bool
	viaRelay bool
	timeout  time.Duration
	files    fileList
}

func newFlagSet(output io.Writer, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("restctl", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&o.method, "method", "GET", "HTTP method")
	fs.StringVar(&o.path, "path", "", "API path, e.g. /users/@me")
	fs.StringVar(&o.data, "data", "", "JSON body")
	fs.StringVar(&o.reason, "reason", "", "audit log reason")
	fs.BoolVar(&o.noAuth, "noauth", false, "send without the Authorization header")
	fs.BoolVar(&o.viaRelay, "relay", false, "queue the call on NATS for a relay instead of calling directly")
	fs.DurationVar(&o.timeout, "timeout", 2*time.Minute, "how long to wait for the result")
	fs.Var(&o.files, "file", "file to attach (repeatable)")
	return fs
}

// output is what restctl prints on stdout.
type output struct {
	Status   int             `json:"status,omitempty"`
	OK       bool            `json:"ok"`
	Body     json.RawMessage `json:"body,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts,omitempty"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var o options
	fs := newFlagSet(stderr, &o)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !strings.HasPrefix(o.path, "/") {
		fmt.Fprintln(stderr, "restctl: -path is required and must start with /")
		return 2
	}
	if o.data != "" && !json.Valid([]byte(o.data)) {
		fmt.Fprintln(stderr, "restctl: -data is not valid JSON")
		return 2
	}

	logs.SetOutput(stderr)
	cfg := config.LoadConfig()
	if cfg.Debug {
		logs.EnableDebug()
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var (
		out output
		err error
	)
	if o.viaRelay {
		out, err = callViaRelay(ctx, cfg, o)
	} else {
		out, err = callDirect(ctx, cfg, o)
	}
	if err != nil {
		fmt.Fprintf(stderr, "restctl: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	if !out.OK {
		return 1
	}
	return 0
}

func readFiles(paths []string) ([]natscore.FilePayload, error) {
	files := make([]natscore.FilePayload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		files = append(files, natscore.FilePayload{
			Name:        filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Data:        data,
		})
	}
	return files, nil
}

func callDirect(ctx context.Context, cfg config.Config, o options) (output, error) {
	files, err := readFiles(o.files)
	if err != nil {
		return output{}, err
	}

	var rdb *redislib.Client
	if cfg.RedisURL != "" {
		if rdb, err = redis.Connect(cfg); err != nil {
			return output{}, err
		}
		defer redis.Cleanup(context.Background(), rdb)
	}
	jar, err := cookiestore.New(rdb, cfg.CookieKey)
	if err != nil {
		return output{}, err
	}
	if err := jar.Restore(ctx); err != nil {
		logs.Warn("failed to restore cookies", "error", err)
	}

	restCfg, err := rest.ConfigFrom(cfg)
	if err != nil {
		return output{}, err
	}
	session := rest.NewSession(rest.Credentials{Token: cfg.Token, Bot: cfg.Bot, Cookie: cfg.SessionCookie})
	client, err := rest.New(restCfg, session, rest.WithCookieJar(jar))
	if err != nil {
		return output{}, err
	}
	defer func() {
		_ = client.Close(context.Background())
		if err := jar.Persist(context.Background()); err != nil {
			logs.Warn("failed to persist cookies", "error", err)
		}
	}()

	opts := rest.Options{Auth: !o.noAuth, Reason: o.reason}
	if o.data != "" {
		opts.Data = json.RawMessage(o.data)
	}
	for _, f := range files {
		opts.Files = append(opts.Files, rest.FileAttachment{Name: f.Name, Data: f.Data, ContentType: f.ContentType})
	}

	env, err := client.Do(ctx, strings.ToUpper(o.method), o.path, opts)
	if err != nil {
		if rest.IsAuthRequired(err) || errors.Is(err, context.DeadlineExceeded) {
			return output{}, err
		}
		out := output{Error: err.Error(), Attempts: rest.AttemptsOf(err)}
		if resp := rest.ResponseOf(err); resp != nil {
			out.Status = resp.StatusCode
			out.Body = bodyJSON(resp.Raw)
		}
		return out, nil
	}
	return output{Status: env.StatusCode, OK: env.OK, Body: bodyJSON(env.Raw), Attempts: env.Attempts}, nil
}

func callViaRelay(ctx context.Context, cfg config.Config, o options) (output, error) {
	files, err := readFiles(o.files)
	if err != nil {
		return output{}, err
	}
	conn, js, err := natscore.ConnectJetStream(cfg)
	if err != nil {
		return output{}, err
	}
	defer natscore.Cleanup(conn)

	req := natscore.CallRequest{
		ID:     uuid.NewString(),
		Method: strings.ToUpper(o.method),
		Path:   o.path,
		Auth:   !o.noAuth,
		Reason: o.reason,
		Files:  files,
	}
	if o.data != "" {
		req.Data = json.RawMessage(o.data)
	}

	sub, err := conn.SubscribeSync(natscore.ResultSubject(req.ID))
	if err != nil {
		return output{}, fmt.Errorf("subscribe to result: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := natscore.PublishCall(ctx, js, req); err != nil {
		return output{}, err
	}
	logs.Debug("queued call for relay", "id", req.ID, "method", req.Method, "path", req.Path)

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return output{}, fmt.Errorf("wait for result of %s: %w", req.ID, err)
	}
	var res natscore.CallResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return output{}, fmt.Errorf("decode result of %s: %w", req.ID, err)
	}
	return output{Status: res.Status, OK: res.OK, Body: res.Body, Error: res.Error, Attempts: res.Attempts}, nil
}

func bodyJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
