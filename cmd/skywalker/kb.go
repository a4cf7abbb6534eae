package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/skywalker/internal/knowledge"
	kbtool "github.com/ChamsBouzaiene/skywalker/internal/tools/knowledge"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/supportdb"
)

func newKBCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base behind rag_search",
	}
	cmd.AddCommand(newKBIngestCmd(flags), newKBSearchCmd(flags), newKBJobsCmd(flags), newKBWatchCmd(flags))
	return cmd
}

func newKBIngestCmd(flags *globalFlags) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "ingest SOURCE...",
		Short: "Chunk and index markdown files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := loadBaseEnv(flags)
			if err != nil {
				return err
			}
			kb, err := openKnowledge(ctx, b)
			if err != nil {
				return err
			}
			defer kb.Close()

			job, err := kb.service.CreateJob(ctx, namespace, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "job %s: %d source(s)\n", job.ID, len(job.Sources))
			job, err = kb.service.RunJob(ctx, job.ID)
			if err != nil {
				return err
			}
			printJob(cmd, job)
			return nil
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", knowledge.DefaultNamespace, "index namespace")
	return cmd
}

func printJob(cmd *cobra.Command, job *knowledge.Job) {
	t := newTable(cmd.OutOrStdout(), table.Row{"Source", "Status", "Chunks", "Error"})
	for _, s := range job.Sources {
		t.AppendRow(table.Row{s.Source, s.Status, s.ChunksCount, s.Error})
	}
	t.AppendFooter(table.Row{job.ID, job.Status, job.TotalChunks, job.Error})
	t.Render()
}

func newKBSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		namespace string
		topK      int
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Query the knowledge base the way rag_search does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := loadBaseEnv(flags)
			if err != nil {
				return err
			}
			kb, err := openKnowledge(ctx, b)
			if err != nil {
				return err
			}
			defer kb.Close()

			results, err := kb.service.Query(ctx, args[0], topK, namespace)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No results found in knowledge base for: %s\n", args[0])
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), kbtool.FormatResults(args[0], results))
			return nil
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", knowledge.DefaultNamespace, "index namespace")
	cmd.Flags().IntVarP(&topK, "top-k", "k", kbtool.DefaultTopK, "number of results")
	return cmd
}

func newKBJobsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs [JOB_ID]",
		Short: "List ingestion jobs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := loadBaseEnv(flags)
			if err != nil {
				return err
			}
			store, err := knowledge.OpenJobStore(ctx, b.cfg.Knowledge.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				job, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printJob(cmd, job)
				return nil
			}

			jobs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Job", "Namespace", "Status", "Sources", "Chunks", "Updated", "Error"})
			for _, j := range jobs {
				t.AppendRow(table.Row{j.ID, j.Namespace, j.Status, len(j.Sources), j.TotalChunks,
					j.UpdatedAt.Local().Format(time.DateTime), j.Error})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to list")
	return cmd
}

func newKBWatchCmd(flags *globalFlags) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "watch [DIR]",
		Short: "Re-ingest markdown files as they change",
		Long: `watch runs the ingestion worker and re-ingests markdown files below DIR
(default knowledge.watch_dir) whenever they change. Unfinished jobs from an
earlier run are resumed first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := loadBaseEnv(flags)
			if err != nil {
				return err
			}
			dir := b.cfg.Knowledge.WatchDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no directory given and knowledge.watch_dir is not set")
			}

			kb, err := openKnowledge(ctx, b)
			if err != nil {
				return err
			}
			defer kb.Close()
			b.serveMetrics(ctx)

			worker := knowledge.NewWorker(kb.service, b.logger)
			worker.OnFinish(func(job *knowledge.Job) {
				b.logger.Info("ingestion finished",
					zap.String("job_id", job.ID),
					zap.String("status", string(job.Status)),
					zap.Int("chunks", job.TotalChunks),
				)
			})
			worker.Start()
			defer worker.Stop()

			watcher, err := knowledge.NewWatcher(dir, b.logger)
			if err != nil {
				return err
			}
			watcher.OnChange(knowledge.Reingest(ctx, worker, namespace, b.logger))
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			if _, err := worker.Submit(ctx, namespace, []string{dir}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (ctrl-c to stop)\n", dir)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", knowledge.DefaultNamespace, "index namespace")
	return cmd
}

func newDBCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the customer support database",
	}
	var seed bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Recreate the support database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadBaseEnv(flags)
			if err != nil {
				return err
			}
			path := b.cfg.SupportDB.Path
			db, err := supportdb.Init(cmd.Context(), path, seed)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "support database initialized at %s (demo data: %t)\n", path, seed)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&seed, "seed", true, "insert demo customers, transfers and incidents")
	cmd.AddCommand(initCmd)
	return cmd
}
