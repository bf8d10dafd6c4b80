package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/auditlog"
	"github.com/reconai/auditkit/confidence"
	"github.com/reconai/auditkit/credential"
	"github.com/reconai/auditkit/logutil"
	"github.com/reconai/auditkit/requestid"
)

var (
	errInvalidJSON   = errors.New("--data is not valid JSON")
	errInvalidHeader = errors.New("header must look like 'Name: value'")
	errInvalidQuery  = errors.New("query must look like 'key=value'")
)

// cliEnv supplies flag defaults from the environment.
type cliEnv struct {
	Token string `env:"AUDITCTL_TOKEN"`
	Org   string `env:"AUDITCTL_ORG"`
}

type globalOptions struct {
	baseURL            string
	origin             string
	token              string
	org                string
	tokenTemplate      string
	skipBodyValidation bool
	raw                bool
	verbose            bool
	timeout            time.Duration
	headers            []string
	query              []string

	fetchConfig auditfetch.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{} //nolint:exhaustruct

	fetchConfig, configErr := auditfetch.LoadConfig()

	var defaults cliEnv

	if err := env.Parse(&defaults); err != nil {
		configErr = errors.Join(configErr, fmt.Errorf("failed to parse auditctl env: %w", err))
	}

	opts.fetchConfig = fetchConfig

	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Issue audited HTTP requests",
		Long:          "auditctl sends requests with a fresh X-Request-ID and verifies the response echoes it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return configErr
		},
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.baseURL, "base-url", fetchConfig.DefaultBaseURL(), "backend base URL")
	flags.StringVar(&opts.origin, "origin", fetchConfig.Origin, "origin for same-origin /api/ paths")
	flags.StringVar(&opts.token, "token", defaults.Token, "bearer token")
	flags.StringVar(&opts.org, "org", defaults.Org, "organization id sent as X-Organization-ID")
	flags.StringVar(&opts.tokenTemplate, "token-template", fetchConfig.TokenTemplate, "token template to request")
	flags.BoolVar(&opts.skipBodyValidation, "skip-body-validation", false, "accept bodies without request_id")
	flags.BoolVar(&opts.raw, "raw", false, "print the raw response body without validating it")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log the audited call to stderr")
	flags.DurationVar(&opts.timeout, "timeout", 0, "request timeout; none unless set")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, "extra header, 'Name: value'")
	flags.StringArrayVarP(&opts.query, "query", "q", nil, "query parameter, 'key=value'")

	for _, method := range []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
	} {
		root.AddCommand(newVerbCmd(opts, method))
	}

	root.AddCommand(newIDCmd(), newResolveCmd(opts), newConfidenceCmd())

	return root
}

func newVerbCmd(opts *globalOptions, method string) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " <path>",
		Short: method + " an audited request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readData(data)
			if err != nil {
				return err
			}

			return runFetch(cmd, opts, method, args[0], body)
		},
	}

	if method != http.MethodGet && method != http.MethodDelete {
		cmd.Flags().StringVarP(&data, "data", "d", "", "JSON body, or @file to read it from a file")
	}

	return cmd
}

func readData(data string) (string, error) {
	if data == "" {
		return "", nil
	}

	if path, ok := strings.CutPrefix(data, "@"); ok {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read --data file: %w", err)
		}

		data = string(raw)
	}

	if !json.Valid([]byte(data)) {
		return "", errInvalidJSON
	}

	return data, nil
}

func (opts *globalOptions) client(stderr io.Writer) *auditfetch.Client {
	clientOpts := []auditfetch.Option{
		auditfetch.WithOrigin(opts.origin),
		auditfetch.WithDefaultTokenTemplate(opts.tokenTemplate),
		auditfetch.WithMaxResponseSize(opts.fetchConfig.MaxResponseSize),
		auditfetch.WithCredentials(credential.Static{AccessToken: opts.token, OrganizationID: opts.org}),
	}

	if opts.timeout > 0 {
		clientOpts = append(clientOpts, auditfetch.WithTimeout(opts.timeout))
	}

	if opts.verbose {
		logger := logutil.NewLogger(stderr, "debug", true)
		clientOpts = append(clientOpts, auditfetch.WithObserver(auditlog.New(auditlog.WithLogger(logger))))
	}

	return auditfetch.New(opts.baseURL, clientOpts...)
}

func (opts *globalOptions) requestOptions(method, body string) ([]auditfetch.RequestOption, error) {
	reqOpts := []auditfetch.RequestOption{auditfetch.WithMethod(method)}

	if body != "" {
		reqOpts = append(reqOpts, auditfetch.WithBody(body))
	}

	if opts.tokenTemplate != "" {
		reqOpts = append(reqOpts, auditfetch.WithTokenTemplate(opts.tokenTemplate))
	}

	if opts.skipBodyValidation {
		reqOpts = append(reqOpts, auditfetch.WithSkipBodyValidation())
	}

	if opts.raw {
		reqOpts = append(reqOpts, auditfetch.WithRawResponse())
	}

	for _, header := range opts.headers {
		name, value, ok := strings.Cut(header, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidHeader, header)
		}

		reqOpts = append(reqOpts, auditfetch.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}

	for _, pair := range opts.query {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidQuery, pair)
		}

		reqOpts = append(reqOpts, auditfetch.WithQuery(key, value))
	}

	return reqOpts, nil
}

func runFetch(cmd *cobra.Command, opts *globalOptions, method, path, body string) error {
	reqOpts, err := opts.requestOptions(method, body)
	if err != nil {
		return err
	}

	result, err := opts.client(cmd.ErrOrStderr()).Fetch(cmd.Context(), path, reqOpts...)
	if err != nil {
		if httpErr, ok := auditfetch.AsHTTPError(err); ok && httpErr.Body != nil {
			_ = writeJSON(cmd.OutOrStdout(), httpErr.Body)
		}

		return err //nolint:wrapcheck
	}

	return writeResult(cmd.OutOrStdout(), result)
}

func writeResult(out io.Writer, result *auditfetch.Result) error {
	switch {
	case result.Raw != nil:
		defer result.Raw.Body.Close()

		_, err := io.Copy(out, result.Raw.Body)

		return err //nolint:wrapcheck
	case result.NoContent:
		return nil
	case json.Valid(result.Body):
		var indented bytes.Buffer
		if err := json.Indent(&indented, result.Body, "", "  "); err != nil {
			return err //nolint:wrapcheck
		}

		indented.WriteByte('\n')

		_, err := out.Write(indented.Bytes())

		return err //nolint:wrapcheck
	default:
		_, err := out.Write(result.Body)

		return err //nolint:wrapcheck
	}
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value) //nolint:wrapcheck
}

func newIDCmd() *cobra.Command {
	var uuidOnly bool

	cmd := &cobra.Command{
		Use:   "id",
		Short: "Print a freshly generated request id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			generator := requestid.New()
			if uuidOnly {
				generator = requestid.UUID()
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), generator.NewID())

			return err //nolint:wrapcheck
		},
	}

	cmd.Flags().BoolVar(&uuidOnly, "uuid", false, "always print a UUIDv4")

	return cmd
}

func newResolveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path>",
		Short: "Print the URL a path is sent to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), auditfetch.ResolveURL(args[0], opts.baseURL))

			return err //nolint:wrapcheck
		},
	}
}

func newConfidenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confidence <score>",
		Short: "Format a confidence score as a percentage and band",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := confidence.Parse(args[0])
			if err != nil {
				return err //nolint:wrapcheck
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", score.Percent(), score.Band())

			return err //nolint:wrapcheck
		},
	}
}
