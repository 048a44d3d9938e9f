package cli

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/engram/internal/pipeline"
	"github.com/scrypster/engram/pkg/types"
)

func newPutCommand(opts *options) *cobra.Command {
	var (
		category   string
		importance int
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "put <content>",
		Short: "Store one fact in the bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer app.close(ctx)

			if !types.IsValidCategory(category) {
				return fmt.Errorf("unknown category %q (valid: %s)", category, categoryList())
			}

			eng, err := app.engine(ctx, opts)
			if err != nil {
				return err
			}
			id, err := eng.Store(ctx, args[0], types.Category(category), types.ClampImportance(importance), sessionID, 0)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stored memory %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", string(types.CategoryContext), "category: "+categoryList())
	cmd.Flags().IntVar(&importance, "importance", types.DefaultImportance, "importance, 1 (minor) to 5 (core)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to link the record to")
	return cmd
}

func newSearchCommand(opts *options) *cobra.Command {
	var (
		topK          int
		minSimilarity float64
		categories    []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantically search the bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer app.close(ctx)

			var filter []types.Category
			for _, c := range categories {
				if !types.IsValidCategory(c) {
					return fmt.Errorf("unknown category %q (valid: %s)", c, categoryList())
				}
				filter = append(filter, types.Category(c))
			}

			if topK <= 0 {
				topK = app.cfg.Retrieval.TopK
			}
			if !cmd.Flags().Changed("min-similarity") {
				minSimilarity = app.cfg.Retrieval.MinSimilarity
			}

			eng, err := app.engine(ctx, opts)
			if err != nil {
				return err
			}
			results, err := eng.Retrieve(ctx, args[0], topK, filter, minSimilarity)
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no memories found")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%6d  %.3f  [%s] %s\n",
					r.Record.ID, r.Similarity, r.Record.Category, r.Record.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum results (default from config)")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "similarity cutoff (default from config)")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "restrict to categories (repeatable)")
	return cmd
}

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show bucket statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer app.close(ctx)

			eng, err := app.engine(ctx, opts)
			if err != nil {
				return err
			}
			stats, err := eng.Stats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bucket:     %s/%s\n", opts.agentID, opts.userID)
			fmt.Fprintf(out, "memories:   %d\n", stats.TotalMemories)
			fmt.Fprintf(out, "vectors:    %d\n", stats.VectorCount)
			fmt.Fprintf(out, "encrypted:  %v\n", stats.EncryptionEnabled)

			categories := make([]string, 0, len(stats.ByCategory))
			for c := range stats.ByCategory {
				categories = append(categories, string(c))
			}
			sort.Strings(categories)
			for _, c := range categories {
				fmt.Fprintf(out, "  %-13s %d\n", c+":", stats.ByCategory[types.Category(c)])
			}
			return nil
		},
	}
}

func newForgetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id>",
		Short: "Delete one memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid memory id %q", args[0])
			}

			app, err := opts.newApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer app.close(ctx)

			eng, err := app.engine(ctx, opts)
			if err != nil {
				return err
			}
			if err := eng.Forget(ctx, id); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "forgot memory %d\n", id)
			return nil
		},
	}
}

func newChatCommand(opts *options) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive loop that buffers turns, extracts facts, and surfaces memories",
		Long: `Reads user messages from stdin. Before each reply the matching memories
are printed; once enough user messages accumulate, the extraction model is
called and any new facts are stored. There is no real assistant behind
this loop; it exists to exercise and inspect the memory path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.newApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer app.close(ctx)

			out := cmd.OutOrStdout()
			callback := func(result *types.ExtractionResult) {
				switch result.Status {
				case types.ExtractionExtracted:
					fmt.Fprintf(out, "  (extracted %d memories in %dms)\n", len(result.Candidates), result.DurationMS)
				case types.ExtractionError:
					fmt.Fprintf(out, "  (extraction failed: %s)\n", result.ErrorMessage)
				}
			}

			orchestrator, err := app.newOrchestrator(callback)
			if err != nil {
				return err
			}

			processor := pipeline.NewProcessor(app.manager, orchestrator, pipeline.Config{
				AgentID:       opts.agentID,
				UserID:        opts.userID,
				SessionID:     sessionID,
				TopK:          app.cfg.Retrieval.TopK,
				MinSimilarity: app.cfg.Retrieval.MinSimilarity,
			}, app.logger)
			defer processor.Close(ctx)

			fmt.Fprintf(out, "session %s — type messages, ctrl-d to quit\n", processor.SessionID())

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					break
				}
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}

				for _, line := range processor.OnUserMessage(ctx, text) {
					fmt.Fprintf(out, "  memory: %s\n", line)
				}
				reply := fmt.Sprintf("(noted, turn %d)", processor.UserTurns())
				fmt.Fprintln(out, reply)
				processor.OnAssistantMessage(reply)
			}
			fmt.Fprintln(out)
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (generated when omitted)")
	return cmd
}

func categoryList() string {
	names := make([]string, len(types.Categories))
	for i, c := range types.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
