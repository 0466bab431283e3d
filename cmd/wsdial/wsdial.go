// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// The wsdial command opens WebSocket sessions to a server, for debugging
// servers and the handshake itself. It prints the handshake response,
// sends the -send messages, prints the first -n messages it receives and
// closes.
//
// Flags may also be set from the environment with a WSDIAL_ prefix, such
// as WSDIAL_TIMEOUT=5s.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/peterbourgon/ff/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"wsdial.dev/net/wsframe"
	"wsdial.dev/net/wshandshake"
	"wsdial.dev/types/logger"
	"wsdial.dev/wsclient"
)

// headerFlag collects repeated -header name:value flags.
type headerFlag [][2]string

func (h *headerFlag) String() string {
	var parts []string
	for _, kv := range *h {
		parts = append(parts, kv[0]+":"+kv[1])
	}
	return strings.Join(parts, ", ")
}

func (h *headerFlag) Set(s string) error {
	name, val, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("header %q not in name:value form", s)
	}
	*h = append(*h, [2]string{name, strings.TrimSpace(val)})
	return nil
}

type options struct {
	timeout       time.Duration
	wait          time.Duration
	verifyAccept  bool
	strictHeaders bool
	maxBinary     int64
	maxText       int64
	headers       headerFlag
	send          []string
	n             int
	parallel      int
	verbose       bool
	insecure      bool
	stdio         bool
}

func parseFlags(args []string) (*options, *url.URL, error) {
	fs := flag.NewFlagSet("wsdial", flag.ContinueOnError)
	o := new(options)
	var send string
	fs.DurationVar(&o.timeout, "timeout", 10*time.Second, "bound on each network operation of the handshake; 0 means none")
	fs.DurationVar(&o.wait, "wait", 5*time.Second, "how long to wait for -n messages")
	fs.BoolVar(&o.verifyAccept, "verify-accept", false, "check the server's Sec-WebSocket-Accept")
	fs.BoolVar(&o.strictHeaders, "strict-headers", false, "fail on malformed response header lines")
	fs.Int64Var(&o.maxBinary, "max-binary", wsclient.DefaultBufferSize, "max binary message size, also the handshake read buffer size")
	fs.Int64Var(&o.maxText, "max-text", wsclient.DefaultBufferSize, "max text message size")
	fs.Var(&o.headers, "header", "extra request header as name:value; may be repeated")
	fs.StringVar(&send, "send", "", "comma-separated text messages to send after connecting")
	fs.IntVar(&o.n, "n", 0, "number of messages to print before closing")
	fs.IntVar(&o.parallel, "parallel", 1, "number of sessions to open at once")
	fs.BoolVar(&o.verbose, "verbose", false, "debug logging")
	fs.BoolVar(&o.insecure, "insecure", false, "skip TLS certificate verification for https")
	fs.BoolVar(&o.stdio, "stdio", false, "tunnel stdin and stdout over binary messages instead of printing messages")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: wsdial [flags] http[s]://host[:port]/path\n")
		fs.PrintDefaults()
	}
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("WSDIAL")); err != nil {
		return nil, nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, nil, errors.New("need exactly one URL")
	}
	if o.stdio && (o.parallel != 1 || send != "") {
		return nil, nil, errors.New("-stdio can't be combined with -parallel or -send")
	}
	if o.parallel < 1 {
		return nil, nil, fmt.Errorf("-parallel must be at least 1, got %d", o.parallel)
	}
	if send != "" {
		o.send = strings.Split(send, ",")
	}
	u, err := url.Parse(fs.Arg(0))
	if err != nil {
		return nil, nil, err
	}
	return o, u, nil
}

func newZapLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return zl.Sugar(), nil
}

// tlsTransport returns the SecureTransport used for https URLs.
func tlsTransport(insecure bool) wshandshake.SecureFunc {
	return func(ctx context.Context, c net.Conn, serverName string) (net.Conn, error) {
		tc := tls.Client(c, &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: insecure,
			// The upgrade is HTTP/1.1 only.
			NextProtos: []string{"http/1.1"},
		})
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		return tc, nil
	}
}

func newContainer(o *options, logf logger.Logf) (*wsclient.Container, error) {
	ct := &wsclient.Container{
		HandshakeTimeout: o.timeout,
		VerifyAccept:     o.verifyAccept,
		StrictHeaders:    o.strictHeaders,
		SecureTransport:  tlsTransport(o.insecure),
		Logf:             logf,
	}
	if err := ct.SetMaxBinaryMessageBufferSize(o.maxBinary); err != nil {
		return nil, err
	}
	if err := ct.SetMaxTextMessageBufferSize(o.maxText); err != nil {
		return nil, err
	}
	return ct, nil
}

// printer is the endpoint of one session. It writes what it receives to
// out and reports when it has seen want messages.
type printer struct {
	out  *lockedWriter
	tag  string
	want int

	mu   sync.Mutex
	got  int
	full chan struct{} // closed once got reaches want
}

func (p *printer) OnOpen(s *wsclient.Session, cfg *wsclient.EndpointConfig) {
	resp := s.HandshakeResponse()
	var b strings.Builder
	fmt.Fprintf(&b, "%s< %s\n", p.tag, resp.StatusLine)
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(&b, "%s< %s: %s\n", p.tag, name, v)
		}
	}
	p.out.WriteString(b.String())
}

func (p *printer) OnMessage(s *wsclient.Session, typ wsframe.MessageType, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.got >= p.want {
		return
	}
	if typ == wsframe.Text {
		p.out.WriteString(fmt.Sprintf("%s< [%v] %s\n", p.tag, typ, data))
	} else {
		p.out.WriteString(fmt.Sprintf("%s< [%v] %x\n", p.tag, typ, data))
	}
	p.got++
	if p.got == p.want {
		close(p.full)
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) WriteString(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	io.WriteString(w.w, s)
}

// dialOne runs one session from connect to close.
func dialOne(ctx context.Context, ct *wsclient.Container, o *options, u *url.URL, out *lockedWriter, tag string) error {
	p := &printer{out: out, tag: tag, want: o.n, full: make(chan struct{})}
	if o.n == 0 {
		close(p.full)
	}
	cfg := &wsclient.EndpointConfig{
		BeforeRequest: func(h *wshandshake.Header) {
			for _, kv := range o.headers {
				h.Add(kv[0], kv[1])
			}
		},
	}
	s, err := ct.Connect(ctx, func() (wsclient.Endpoint, error) { return p, nil }, cfg, u)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, m := range o.send {
		if err := s.SendText(ctx, m); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		out.WriteString(fmt.Sprintf("%s> %s\n", tag, m))
	}

	timer := time.NewTimer(o.wait)
	defer timer.Stop()
	select {
	case <-p.full:
		return nil
	case <-s.Done():
		if err := s.Err(); err != nil {
			return err
		}
		return errors.New("session closed by server")
	case <-timer.C:
		return fmt.Errorf("timed out after %v waiting for %d messages", o.wait, o.n)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pipeStdio copies stdin to the server and the server's messages to
// stdout until stdin ends or the server closes.
func pipeStdio(ctx context.Context, ct *wsclient.Container, o *options, u *url.URL, stdin io.Reader, stdout io.Writer) error {
	nc, _, err := ct.DialConn(ctx, &wsclient.EndpointConfig{
		BeforeRequest: func(h *wshandshake.Header) {
			for _, kv := range o.headers {
				h.Add(kv[0], kv[1])
			}
		},
	}, u, wsframe.Binary)
	if err != nil {
		return err
	}
	defer nc.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdout, nc)
		errc <- err
	}()
	if _, err := io.Copy(nc, stdin); err != nil {
		return err
	}
	// Stdin is done; give the server until -wait to finish replying.
	nc.SetReadDeadline(time.Now().Add(o.wait))
	select {
	case err := <-errc:
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	o, u, err := parseFlags(args)
	if err != nil {
		return err
	}
	zlog, err := newZapLogger(o.verbose)
	if err != nil {
		return err
	}
	defer zlog.Sync()

	logf := logger.WithPrefix(logger.RateLimitedFn(zlog.Debugf, time.Minute, 20, 100), "wsdial: ")
	ct, err := newContainer(o, logf)
	if err != nil {
		return err
	}
	defer ct.Close()

	if o.stdio {
		return pipeStdio(ctx, ct, o, u, stdin, stdout)
	}

	out := &lockedWriter{w: stdout}
	g, ctx := errgroup.WithContext(ctx)
	for i := range o.parallel {
		tag := ""
		if o.parallel > 1 {
			tag = fmt.Sprintf("[%d] ", i)
		}
		g.Go(func() error {
			start := time.Now()
			err := dialOne(ctx, ct, o, u, out, tag)
			if err != nil {
				zlog.Errorw("session failed", "session", i, "reason", wshandshake.ReasonOf(err).String(), "error", err)
				return err
			}
			zlog.Infow("session done", "session", i, "elapsed", time.Since(start))
			return nil
		})
	}
	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "wsdial: %v\n", err)
		os.Exit(1)
	}
}
