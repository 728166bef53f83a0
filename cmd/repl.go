package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/config"
	"github.com/xkilldash9x/browser-window/internal/observability"
	"github.com/xkilldash9x/browser-window/pkg/browserwindow"
)

const replHelp = `Enter JavaScript to evaluate it in the window. Commands:
  .nav URL   navigate the window
  .title     print the document title
  .url       print the current location
  .cookies   list the cookies for the current location
  .exit      leave the REPL
`

func newReplCmd(cfgFn func() config.Interface) *cobra.Command {
	var src sourceFlags
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Evaluate JavaScript interactively",
		Long: `Opens one window and reads scripts from stdin. Input is handled on
its own goroutine and every request crosses onto the event loop thread.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger().Named("repl")
			code, err := runRepl(cmd.Context(), cfgFn(), logger, src.source(), cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}
	src.register(cmd)
	return cmd
}

func runRepl(ctx context.Context, cfg config.Interface, logger *zap.Logger, src browserwindow.Source, in io.Reader, out io.Writer) (int, error) {
	return runSession(ctx, cfg, logger, src, func(app browserwindow.Application, b *browserwindow.Browser) error {
		bt, err := b.Async()
		if err != nil {
			return err
		}
		b.Release()

		async := app.Async()
		go func() {
			r := &repl{bt: bt, out: out, logger: logger}
			r.loop(ctx, in)
			bt.Release()
			async.Exit(0)
		}()
		return nil
	})
}

type repl struct {
	bt     *browserwindow.BrowserThreaded
	out    io.Writer
	logger *zap.Logger
}

func (r *repl) loop(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(r.out, "bw> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == ".exit" || line == ".quit" {
			return
		}
		if line != "" {
			r.handle(ctx, line)
		}
		if ctx.Err() != nil {
			return
		}
		fmt.Fprint(r.out, "bw> ")
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("Failed to read input.", zap.Error(err))
	}
}

func (r *repl) handle(ctx context.Context, line string) {
	var (
		value string
		err   error
	)
	switch {
	case line == ".help":
		value = strings.TrimRight(replHelp, "\n")
	case line == ".title":
		value, err = r.bt.Title().Await(ctx)
	case line == ".url":
		value, err = r.bt.URL().Await(ctx)
	case strings.HasPrefix(line, ".nav "):
		_, err = r.bt.Navigate(strings.TrimSpace(strings.TrimPrefix(line, ".nav "))).Await(ctx)
	case line == ".cookies":
		value, err = r.cookies(ctx)
	default:
		value, err = r.bt.EvalJS(line).Await(ctx)
	}

	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if value != "" {
		fmt.Fprintln(r.out, value)
	}
}

func (r *repl) cookies(ctx context.Context) (string, error) {
	u, err := r.bt.URL().Await(ctx)
	if err != nil {
		return "", err
	}
	cookies, err := r.bt.App().Cookies().Iterate(u, true).Await(ctx)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
