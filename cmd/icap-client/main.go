// Command icap-client sends a file to an ICAP server for adaptation and
// prints the verdict.
//
//	icap-client -host icap.example.com -mode respmod -file page.html
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/WhileEndless/go-icapclient/pkg/icap"
	"github.com/WhileEndless/go-icapclient/pkg/logging"
	"github.com/WhileEndless/go-icapclient/pkg/transport"
	"github.com/WhileEndless/go-icapclient/pkg/version"
)

type options struct {
	host     string
	port     int
	ipv6     bool
	service  string
	mode     string
	url      string
	file     string
	timeout  time.Duration
	output   string
	decode   bool
	tls      bool
	insecure bool
	proxy    string
	verbose  int
	stdout   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.host, "host", "", "ICAP server host")
	flag.IntVar(&opts.port, "port", icap.DefaultPort, "ICAP server port")
	flag.BoolVar(&opts.ipv6, "6", false, "connect over IPv6")
	flag.StringVar(&opts.service, "service", icap.DefaultService, "ICAP service")
	flag.StringVar(&opts.mode, "mode", "respmod", "adaptation mode: reqmod or respmod")
	flag.StringVar(&opts.url, "url", icap.DefaultURL, "URL of the embedded HTTP request")
	flag.StringVar(&opts.file, "file", "", "file sent as the HTTP body")
	flag.DurationVar(&opts.timeout, "timeout", icap.DefaultTimeout, "negotiation and exchange timeout (0 disables)")
	flag.StringVar(&opts.output, "o", "", "write the adapted body to this file")
	flag.BoolVar(&opts.decode, "decode", false, "remove the Content-Encoding of the adapted body")
	flag.BoolVar(&opts.tls, "tls", false, "connect with TLS")
	flag.BoolVar(&opts.insecure, "insecure", false, "skip TLS certificate verification")
	flag.StringVar(&opts.proxy, "proxy", "", "upstream proxy URL (socks5:// or http://)")
	flag.IntVar(&opts.verbose, "v", 0, "debug level (0 disables)")
	flag.BoolVar(&opts.stdout, "stdout", false, "write debug output to stdout")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.UserAgent())
		return
	}
	if opts.host == "" || opts.file == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "icap-client: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, w io.Writer) error {
	log := logging.New(logging.Options{Level: opts.verbose, Stdout: opts.stdout})

	method := icap.Method(strings.ToUpper(opts.mode))
	family := icap.FamilyInet
	if opts.ipv6 {
		family = icap.FamilyInet6
	}

	session, err := icap.NewSession(opts.host, icap.Config{
		Port:    opts.port,
		Family:  family,
		Service: opts.service,
		Timeout: opts.timeout,
		Logger:  &log,
		Transport: transport.Options{
			TLS:                opts.tls,
			InsecureSkipVerify: opts.insecure,
			ProxyURL:           opts.proxy,
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Request(ctx, method, opts.file, requestOptions(opts)); err != nil {
		log.Debug().Msgf("%+v", err)
		return err
	}

	resp, err := session.GetResponse()
	if err != nil {
		return err
	}
	defer resp.Release()

	printResponse(w, resp)
	return writeBody(resp, opts, log)
}

func requestOptions(opts options) icap.RequestOptions {
	return icap.RequestOptions{URL: opts.url, NoTimeout: opts.timeout == 0}
}

func printResponse(w io.Writer, resp *icap.Response) {
	fmt.Fprintf(w, "ICAP %d %s\n", resp.Status(), resp.Reason())
	for _, h := range resp.ICAPHeaders() {
		fmt.Fprintf(w, "  %s\n", h)
	}
	if line := resp.HTTPRequestLine(); line != "" {
		req, _ := resp.HTTPRequest()
		fmt.Fprintf(w, "\n%s\n", line)
		for _, h := range req.Fields {
			fmt.Fprintf(w, "  %s\n", h)
		}
	}
	if line := resp.HTTPResponseLine(); line != "" {
		res, _ := resp.HTTPResponse()
		fmt.Fprintf(w, "\n%s\n", line)
		for _, h := range res.Fields {
			fmt.Fprintf(w, "  %s\n", h)
		}
	}
	fmt.Fprintf(w, "\ncontent: %d bytes\n", resp.Content().Len())
}

func writeBody(resp *icap.Response, opts options, log zerolog.Logger) error {
	if opts.output == "" {
		return nil
	}

	body := resp.Body()
	if opts.decode {
		decoded, err := resp.DecodedContent()
		if err != nil {
			return fmt.Errorf("decode content: %w", err)
		}
		body = decoded
	}

	if err := os.WriteFile(opts.output, body, 0o644); err != nil {
		return err
	}
	log.Info().Str("file", opts.output).Int("bytes", len(body)).Msg("adapted body written")
	return nil
}
