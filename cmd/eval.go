package cmd

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-window/internal/config"
	"github.com/xkilldash9x/browser-window/internal/observability"
	"github.com/xkilldash9x/browser-window/pkg/browserwindow"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sourceFlags selects what the session window loads.
type sourceFlags struct {
	url  string
	html string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.url, "url", "about:blank", "URL the window loads before running scripts")
	cmd.Flags().StringVar(&s.html, "html", "", "inline HTML document to load instead of --url")
}

func (s *sourceFlags) source() browserwindow.Source {
	if s.html != "" {
		return browserwindow.SourceHTML(s.html)
	}
	return browserwindow.SourceURL(s.url)
}

type evalResult struct {
	Script string `json:"script"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newEvalCmd(cfgFn func() config.Interface) *cobra.Command {
	var (
		src    sourceFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "eval [scripts...]",
		Short: "Evaluate scripts in a fresh window, one after the other",
		Long: `Opens one window, evaluates every script argument in order on the
event loop thread and prints each result. Promises are awaited.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger().Named("eval")
			results, err := runEval(cmd.Context(), cfgFn(), logger, src.source(), args)
			if werr := writeResults(cmd, results, asJSON); werr != nil {
				return werr
			}
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scripts failed", failed, len(results))
			}
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as a JSON array")
	return cmd
}

// runEval evaluates scripts sequentially in one task.
func runEval(ctx context.Context, cfg config.Interface, logger *zap.Logger, src browserwindow.Source, scripts []string) ([]evalResult, error) {
	results := make([]evalResult, 0, len(scripts))
	code, err := runSession(ctx, cfg, logger, src, func(app browserwindow.Application, b *browserwindow.Browser) error {
		steps := make([]browserwindow.Poller, 0, len(scripts)+1)
		for _, script := range scripts {
			steps = append(steps, evalStep(b, script, func(r evalResult) {
				results = append(results, r)
			}))
		}
		steps = append(steps, browserwindow.PollFunc(func(*browserwindow.Waker) bool {
			b.Release()
			_ = app.Exit(0)
			return true
		}))
		_, err := app.Spawn(browserwindow.Sequence(steps...))
		return err
	})
	if err != nil {
		return results, err
	}
	if code != 0 {
		return results, &exitCodeError{code: code}
	}
	return results, nil
}

// evalStep starts the evaluation on its first poll, so steps in a sequence
// never overlap.
func evalStep(b *browserwindow.Browser, script string, record func(evalResult)) browserwindow.Poller {
	var pending *browserwindow.Future[string]
	return browserwindow.PollFunc(func(w *browserwindow.Waker) bool {
		if pending == nil {
			pending = b.EvalJS(script)
		}
		v, err, ok := pending.Poll(w)
		if !ok {
			return false
		}
		r := evalResult{Script: script, Result: v}
		if err != nil {
			r.Error = err.Error()
		}
		record(r)
		return true
	})
}

func writeResults(cmd *cobra.Command, results []evalResult, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		if r.Error != "" {
			stderrf(cmd, "%s\n", r.Error)
			continue
		}
		fmt.Fprintln(out, r.Result)
	}
	return nil
}
