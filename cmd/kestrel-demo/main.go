// Command kestrel-demo is a worked example scraper over pkg/kestrel,
// analogous to the teacher's examples/hackernews (a minimal, fully wired
// scrape target) but exercising the speculation, archive, and JSON-content
// surfaces a CSS-callback crawler never touches. It targets a docket-style
// site (case listing -> case detail -> opinion PDF), the same shape as the
// framework's own Go demo target.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/waylight/kestrel/internal/config"
	"github.com/waylight/kestrel/internal/parse"
	"github.com/waylight/kestrel/internal/types"
	"github.com/waylight/kestrel/pkg/kestrel"
)

func main() {
	baseURL := flag.String("base-url", "https://example-docket.test", "base URL of the docket site to scrape")
	dbPath := flag.String("db", "./kestrel-demo.db", "path to the run's SQLite database")
	archiveDir := flag.String("archive-dir", "./kestrel-demo-archives", "directory for archived opinion PDFs")
	resume := flag.Bool("resume", false, "resume a previous run from --db")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))

	s := kestrel.NewScraper("court-docket-demo", "1.0.0")

	if err := s.Step(kestrel.StepMetadata{Name: "parse_docket"}, parseDocket(*baseURL), []string{"page"}); err != nil {
		logger.Error("registering parse_docket", "error", err)
		os.Exit(1)
	}
	if err := s.Step(kestrel.StepMetadata{Name: "parse_case"}, parseCase(*baseURL), []string{"page", "accumulated_data"}); err != nil {
		logger.Error("registering parse_case", "error", err)
		os.Exit(1)
	}
	if err := s.Step(kestrel.StepMetadata{Name: "archive_opinion"}, archiveOpinion, []string{"request", "accumulated_data", "local_filepath"}); err != nil {
		logger.Error("registering archive_opinion", "error", err)
		os.Exit(1)
	}

	s.Entry("seed_docket", func(params map[string]any) (*types.Request, error) {
		return &types.Request{URL: *baseURL + "/docket", Continuation: "parse_docket"}, nil
	})

	s.Speculate(kestrel.SlotConfig{
		FunctionName:       "case_by_id",
		LargestObservedGap: 25,
		Entry: func(year *int, id int) (*types.Request, error) {
			return &types.Request{
				URL:           fmt.Sprintf("%s/cases/%d", *baseURL, id),
				Continuation:  "parse_case",
				IsSpeculative: true,
				SpeculationID: &types.SpeculationID{FunctionName: "case_by_id", Integer: id},
			}, nil
		},
	})

	cfg := config.DefaultConfig()
	cfg.Store.Path = *dbPath

	ctx := context.Background()
	driver, err := kestrel.Open(ctx, s, kestrel.Options{
		Resume:         *resume,
		InstallSignals: true,
		ArchiveDir:     *archiveDir,
		Logger:         logger,
		Config:         cfg,
	})
	if err != nil {
		logger.Error("opening driver", "error", err)
		os.Exit(1)
	}

	if err := driver.Run(ctx, nil); err != nil {
		logger.Error("run failed", "error", err)
	}

	if err := driver.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}

// parse_docket walks the docket's case listing, yielding one child request
// per case detail page it links to.
func parseDocket(baseURL string) func(page *parse.PageElement) ([]types.Yield, error) {
	return func(page *parse.PageElement) ([]types.Yield, error) {
		links, err := page.QueryCSS(parse.Selector{Expr: "a.case-link", MinCount: 0, Description: "docket case links"})
		if err != nil {
			return nil, err
		}

		var yields []types.Yield
		for _, link := range links {
			href, ok := link.Attr("href")
			if !ok || href == "" {
				continue
			}
			yields = append(yields, types.Yield{
				Kind: types.YieldRequest,
				Request: &types.Request{
					URL:          baseURL + href,
					Continuation: "parse_case",
				},
			})
		}
		return yields, nil
	}
}

// parse_case extracts a case's docket metadata and, if the page links an
// opinion PDF, yields an archive request for it.
func parseCase(baseURL string) func(page *parse.PageElement, accumulatedData map[string]any) ([]types.Yield, error) {
	return func(page *parse.PageElement, accumulatedData map[string]any) ([]types.Yield, error) {
		titles, err := page.QueryCSS(parse.Selector{Expr: "h1.case-title", MinCount: 1, MaxCount: intPtr(1), Description: "case title"})
		if err != nil {
			return nil, err
		}
		dockets, err := page.QueryCSS(parse.Selector{Expr: "span.docket-number", MinCount: 0, MaxCount: intPtr(1), Description: "docket number"})
		if err != nil {
			return nil, err
		}

		data := map[string]any{"title": titles[0].Text()}
		if len(dockets) == 1 {
			data["docket_number"] = dockets[0].Text()
		}

		yields := []types.Yield{{
			Kind:       types.YieldParsedData,
			ParsedData: &types.ParsedData{ResultType: "Case", Data: data, Valid: true},
		}}

		opinionLinks, err := page.QueryCSS(parse.Selector{Expr: "a.opinion-pdf", MinCount: 0, Description: "opinion PDF link"})
		if err != nil {
			return nil, err
		}
		for _, link := range opinionLinks {
			href, ok := link.Attr("href")
			if !ok || href == "" {
				continue
			}
			yields = append(yields, types.Yield{
				Kind: types.YieldArchiveRequest,
				Request: &types.Request{
					URL:             baseURL + href,
					Kind:            types.KindArchive,
					ExpectedType:    "pdf",
					Continuation:    "archive_opinion",
					AccumulatedData: data,
				},
			})
		}
		return yields, nil
	}
}

// opinionData is the deferred-validation target for archive_opinion's
// result: the runtime, not the step, decides whether the record is
// complete before it is persisted (spec §4.4.5).
type opinionData struct {
	DocketNumber string `validate:"required" mapstructure:"docket_number"`
	ImageURL     string `validate:"required,url" mapstructure:"image_url"`
	LocalPath    string `validate:"required" mapstructure:"local_path"`
}

// archive_opinion runs once an opinion PDF has been streamed to disk: it
// pairs the saved file's path with the docket metadata accumulated from
// parse_case and hands the raw fields to the runtime for validation.
func archiveOpinion(req *types.Request, accumulatedData map[string]any, localFilepath string) ([]types.Yield, error) {
	raw := map[string]any{
		"docket_number": accumulatedData["docket_number"],
		"image_url":     req.URL,
		"local_path":    localFilepath,
	}
	return []types.Yield{{
		Kind: types.YieldParsedData,
		ParsedData: &types.ParsedData{
			ResultType: "Opinion",
			Data:       raw,
			Target:     &opinionData{},
		},
	}}, nil
}

func intPtr(n int) *int { return &n }
