package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"recordscope/internal/annotation"
	"recordscope/internal/config"
	"recordscope/internal/export"
	"recordscope/internal/filterstate"
	"recordscope/internal/logging"
	"recordscope/internal/query"
	"recordscope/internal/service"
	"recordscope/internal/types"
)

// cli holds the state shared by every command of one invocation
type cli struct {
	cfg *types.Config
	app *Application
}

// run executes the command line in args
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recordscope",
		Short: "Query, filter, page through and export monitoring events and logs",
		Long: `recordscope is the query engine behind the monitoring dashboard.

It keeps the filters of the events and logs views across runs, queries the
Query Service one page at a time, exports the active filters to CSV and
records comments on events.

Examples:
  recordscope serve                                # local API on :8080
  recordscope query events --user alice --preset 6h
  recordscope query logs --alarm LowLevel --limit 50 --page 2
  recordscope export events --out ./exports
  recordscope comments add 42 --message "valve replaced"`,
		SilenceUsage: true,
		Version:      fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithFlagSet(cmd.Flags())
			if err != nil {
				return err
			}
			if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()); err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		c.serveCmd(),
		c.queryCmd(),
		c.filtersCmd(),
		c.exportCmd(),
		c.commentsCmd(),
		c.optionsCmd(),
	)
	return root
}

// application opens the application on first use
func (c *cli) application() (*Application, error) {
	if c.app != nil {
		return c.app, nil
	}
	app, err := NewApplication(c.cfg)
	if err != nil {
		return nil, err
	}
	c.app = app
	return app, nil
}

func (c *cli) view(kindArg string) (*service.RecordView, error) {
	kind := types.RecordKind(strings.ToLower(strings.TrimSpace(kindArg)))
	if _, ok := types.SchemaFor(kind); !ok {
		return nil, fmt.Errorf("unknown record kind %q (expected events or logs)", kindArg)
	}
	app, err := c.application()
	if err != nil {
		return nil, err
	}
	return app.View(kind)
}

func (c *cli) close() {
	if c.app == nil {
		return
	}
	if err := c.app.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close state store")
	}
}

// --- serve ---

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API and the Query Service connection monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := c.application()
			if err != nil {
				return err
			}

			log.Info().Str("version", Version).Str("build_time", BuildTime).Str("commit", GitCommit).Msg("recordscope starting")
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}
			log.Info().
				Str("service_url", c.cfg.ServiceURL).
				Str("api", fmt.Sprintf("http://localhost:%d/api", c.cfg.HTTPPort)).
				Msg("recordscope started")

			<-ctx.Done()
			log.Info().Msg("shutdown signal received, stopping application")

			stats := app.GetStats()
			if err := app.Stop(); err != nil {
				return err
			}
			log.Info().Interface("stats", stats).Msg("recordscope stopped")
			return nil
		},
	}
}

// --- query ---

type queryFlags struct {
	users       []string
	priorities  []int
	criticities []int
	alarms      []string
	preset      string
	start       string
	end         string
	timezone    string
	page        int
	limit       int
	asJSON      bool
}

func (c *cli) queryCmd() *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:       "query <events|logs>",
		Short:     "Edit the persisted filters of a view and print the resulting page",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(types.KindEvents), string(types.KindLogs)},
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.view(args[0])
			if err != nil {
				return err
			}

			patch, err := f.edit(cmd).ToPatch()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if patch.Empty() {
				err = view.Refresh(ctx)
			} else {
				err = view.ApplyFilters(ctx, patch)
			}
			if err == nil && cmd.Flags().Changed("page") {
				var moved bool
				moved, err = view.ChangePage(ctx, f.page)
				if err == nil && !moved {
					fmt.Fprintf(cmd.ErrOrStderr(), "page %d is out of range (1-%d)\n", f.page, view.Paging().TotalPages)
				}
			}
			if err != nil && !errors.Is(err, query.ErrSuperseded) {
				return err
			}

			snap := view.Snapshot()
			if f.asJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			return writeSnapshot(cmd.OutOrStdout(), view.Schema(), snap)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.users, "user", nil, "Usernames to keep (empty clears)")
	flags.IntSliceVar(&f.priorities, "priority", nil, "Event priorities 0-5 to keep (empty clears)")
	flags.IntSliceVar(&f.criticities, "criticity", nil, "Event criticities 0-5 to keep (empty clears)")
	flags.StringSliceVar(&f.alarms, "alarm", nil, "Log alarm names to keep (empty clears)")
	flags.StringVar(&f.preset, "preset", "", "Relative window: last_hour, 6h, 12h, 1d, 1w, 30d")
	flags.StringVar(&f.start, "start", "", "Custom window start (2006-01-02T15:04)")
	flags.StringVar(&f.end, "end", "", "Custom window end (2006-01-02T15:04)")
	flags.StringVar(&f.timezone, "tz", "", "Persisted IANA timezone of the view (empty clears)")
	flags.IntVar(&f.page, "page", 1, "Page to show")
	flags.IntVar(&f.limit, "limit", 0, "Records per page")
	flags.BoolVar(&f.asJSON, "json", false, "Print the page as JSON")
	return cmd
}

// edit converts the flags the user set into a filter edit
func (f *queryFlags) edit(cmd *cobra.Command) filterstate.Edit {
	changed := cmd.Flags().Changed
	var edit filterstate.Edit
	if changed("user") {
		edit.Usernames = &f.users
	}
	if changed("priority") {
		edit.Priorities = &f.priorities
	}
	if changed("criticity") {
		edit.Criticities = &f.criticities
	}
	if changed("alarm") {
		edit.AlarmNames = &f.alarms
	}
	if changed("preset") {
		edit.Preset = &f.preset
	}
	if changed("start") {
		edit.Start = &f.start
	}
	if changed("end") {
		edit.End = &f.end
	}
	if changed("tz") {
		edit.Timezone = &f.timezone
	}
	if changed("limit") {
		edit.Limit = &f.limit
	}
	return edit
}

// --- filters ---

func (c *cli) filtersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Inspect or reset the persisted filters of a view",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <events|logs>",
		Short: "Print the persisted filters as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.view(args[0])
			if err != nil {
				return err
			}
			return writeFilters(cmd.OutOrStdout(), view.Filters())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <events|logs>",
		Short: "Reset the filters to their defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.view(args[0])
			if err != nil {
				return err
			}
			// The reset is persisted before the query runs
			if err := view.ClearFilters(cmd.Context()); err != nil && !errors.Is(err, query.ErrSuperseded) {
				log.Warn().Err(err).Msg("filters cleared but the query failed")
			}
			return writeFilters(cmd.OutOrStdout(), view.Filters())
		},
	})
	return cmd
}

// --- export ---

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <events|logs>",
		Short: "Export every record matching the persisted filters to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.view(args[0])
			if err != nil {
				return err
			}
			file, err := view.Export(cmd.Context())
			if err != nil {
				return err
			}
			return c.deliver(cmd, out, file)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output directory (defaults to --export-dir)")
	return cmd
}

func (c *cli) deliver(cmd *cobra.Command, dir string, file *export.File) error {
	if dir == "" {
		dir = c.cfg.ExportDir
	}
	path, err := export.DirSink{Dir: dir}.Deliver(file)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d rows)\n", path, file.Rows)
	if file.Truncated {
		fmt.Fprintf(cmd.ErrOrStderr(), "export stopped at the %d row ceiling\n", file.Rows)
	}
	return nil
}

// --- comments ---

func (c *cli) commentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments",
		Short: "Read, add and export the comments of an event",
	}

	var draft types.CommentDraft
	add := &cobra.Command{
		Use:   "add <event-id>",
		Short: "Add a comment to an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			view, err := c.view(string(types.KindEvents))
			if err != nil {
				return err
			}

			workflow := view.Annotations()
			if err := workflow.OpenContextMenu(id, annotation.Point{}); err != nil {
				return err
			}
			if err := workflow.AddComment(); err != nil {
				return err
			}
			err = workflow.Submit(cmd.Context(), draft)
			stored := workflow.Snapshot().State == annotation.StateIdle
			if !stored {
				_ = workflow.Escape()
			}
			switch {
			case err == nil, errors.Is(err, query.ErrSuperseded):
			case stored:
				// Submit only returns from idle when the refresh after a stored comment failed
				log.Warn().Err(err).Msg("comment stored but the refresh failed")
			default:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "comment added to event %d\n", id)
			return nil
		},
	}
	add.Flags().StringVarP(&draft.Message, "message", "m", "", "Comment text (required)")
	add.Flags().StringVar(&draft.Description, "description", "", "Longer description")
	add.Flags().StringVar(&draft.Classification, "classification", "", "Classification label")

	list := &cobra.Command{
		Use:   "list <event-id>",
		Short: "List the comments of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			view, err := c.view(string(types.KindEvents))
			if err != nil {
				return err
			}
			comments, err := view.Comments(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeComments(cmd.OutOrStdout(), comments)
		},
	}

	var out string
	exp := &cobra.Command{
		Use:   "export <event-id>",
		Short: "Export the comments of an event to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			view, err := c.view(string(types.KindEvents))
			if err != nil {
				return err
			}
			file, err := view.ExportComments(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.deliver(cmd, out, file)
		},
	}
	exp.Flags().StringVar(&out, "out", "", "Output directory (defaults to --export-dir)")

	cmd.AddCommand(add, list, exp)
	return cmd
}

func parseEventID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event id %q", arg)
	}
	return id, nil
}

// --- options ---

func (c *cli) optionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options <events|logs>",
		Short: "List the values offered by the filter inputs of a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.view(args[0])
			if err != nil {
				return err
			}
			opts, err := view.Options(cmd.Context())
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(opts)
		},
	}
}

// --- output ---

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSnapshot(w io.Writer, schema types.Schema, snap service.Snapshot) error {
	if snap.Error != "" {
		fmt.Fprintf(w, "error: %s\n", snap.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(schema.Headers(), "\t"))
	for _, record := range snap.Records {
		fmt.Fprintln(tw, strings.Join(schema.Row(record), "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	p := snap.Pagination
	_, err := fmt.Fprintf(w, "page %d/%d, %d per page, %d records\n", p.Page, p.TotalPages, p.Limit, p.TotalRecords)
	return err
}

// filtersView is the YAML rendering of the persisted filters
type filtersView struct {
	Usernames   []string `yaml:"usernames,omitempty"`
	Priorities  []int    `yaml:"priorities,omitempty"`
	Criticities []int    `yaml:"criticities,omitempty"`
	AlarmNames  []string `yaml:"alarm_names,omitempty"`
	Preset      string   `yaml:"preset"`
	Start       string   `yaml:"start,omitempty"`
	End         string   `yaml:"end,omitempty"`
	Timezone    string   `yaml:"timezone,omitempty"`
	Page        int      `yaml:"page"`
	Limit       int      `yaml:"limit"`
}

func writeFilters(w io.Writer, c types.FilterCriteria) error {
	v := filtersView{
		Usernames:   c.Usernames,
		Priorities:  c.Priorities,
		Criticities: c.Criticities,
		AlarmNames:  c.AlarmNames,
		Preset:      string(c.Preset),
		Timezone:    c.Timezone,
		Page:        c.Page,
		Limit:       c.Limit,
	}
	if c.Start != nil {
		v.Start = c.Start.Format(filterstate.TimeLayout)
	}
	if c.End != nil {
		v.End = c.End.Format(filterstate.TimeLayout)
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

func writeComments(w io.Writer, comments []types.Comment) error {
	if len(comments) == 0 {
		_, err := fmt.Fprintln(w, "no comments")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(types.CommentHeaders, "\t"))
	for _, comment := range comments {
		fmt.Fprintln(tw, strings.Join(types.CommentRow(comment), "\t"))
	}
	return tw.Flush()
}
