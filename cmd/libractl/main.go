// cmd/libractl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libraledger/internal/audit"
	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/clients"
	"libraledger/internal/config"
	"libraledger/internal/store"
	"libraledger/internal/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	configPath string
	verbose    bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "libractl",
	Short: "Operator tooling for the libraledger catalog and circulation store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = telemetry.NewLogger(cfg.Logging.Level, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Scan the catalog for duplicate and malformed accession records",
	Long: `Scan the whole catalog once and write the integrity report.

The report lists accession numbers duplicated within a series, accession
numbers that appear in more than one series, and a sample of rows without a
series code. The catalog is never modified.`,
	RunE: runAudit,
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load legacy catalog rows from a JSON array",
	Long: `Load legacy catalog rows as they are.

Rows are checked for balanced counters and a valid status but not for
accession uniqueness; run "libractl audit" afterwards to find duplicates.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "List open issue records with their overdue state",
	RunE:  runActive,
}

var issueCmd = &cobra.Command{
	Use:   "issue ACCESSION BORROWER_ID",
	Short: "Issue a copy through a running server",
	Args:  cobra.ExactArgs(2),
	RunE:  runIssue,
}

var returnCmd = &cobra.Command{
	Use:   "return ISSUE_ID",
	Short: "Return an issued copy through a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runReturn,
}

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Look up, add or change catalog copies through a running server",
}

var copyShowCmd = &cobra.Command{
	Use:   "show ACCESSION",
	Short: "Show one catalog copy",
	Args:  cobra.ExactArgs(1),
	RunE:  runCopyShow,
}

var copyAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Add copies; an empty --accession allocates numbers from the series counter",
	Args:  cobra.ExactArgs(1),
	RunE:  runCopyAdd,
}

var copyStatusCmd = &cobra.Command{
	Use:   "set-status ACCESSION STATUS",
	Short: "Mark a copy PRESENT, LOST or WITHDRAWN",
	Args:  cobra.ExactArgs(2),
	RunE:  runCopySetStatus,
}

var (
	copySeries    string
	copyAccession string
	copyAuthor    string
	copyQuantity  int
)

var (
	auditOut    string
	auditStdout bool
	activeAt    string

	serverURL    string
	issueSeries  string
	issueFaculty bool
	issueDate    string
	returnDate   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("LIBRALEDGER_CONFIG"), "Path to YAML config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	auditCmd.Flags().StringVarP(&auditOut, "out", "o", "", "Report path (default: audit.report_path)")
	auditCmd.Flags().BoolVar(&auditStdout, "stdout", false, "Print the report instead of writing it")

	activeCmd.Flags().StringVar(&activeAt, "at", "", "Evaluation date (YYYY-MM-DD or RFC 3339, default: now)")

	for _, cmd := range []*cobra.Command{issueCmd, returnCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default: derived from http.addr)")
	}
	copyCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (default: derived from http.addr)")
	copyCmd.PersistentFlags().StringVarP(&copySeries, "series", "s", "", "Series code of the copy")
	copyAddCmd.Flags().StringVar(&copyAccession, "accession", "", "Base accession number")
	copyAddCmd.Flags().StringVar(&copyAuthor, "author", "", "Author")
	copyAddCmd.Flags().IntVarP(&copyQuantity, "quantity", "n", 1, "Number of copies")
	copyCmd.AddCommand(copyShowCmd, copyAddCmd, copyStatusCmd)
	issueCmd.Flags().StringVarP(&issueSeries, "series", "s", "", "Series code of the copy")
	issueCmd.Flags().BoolVar(&issueFaculty, "faculty", false, "Borrower is faculty")
	issueCmd.Flags().StringVar(&issueDate, "date", "", "Issue date (default: now)")
	returnCmd.Flags().StringVar(&returnDate, "date", "", "Return date (default: now)")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(activeCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(returnCmd)
	rootCmd.AddCommand(copyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()

	auditor := audit.NewAuditor(backend.Catalog(),
		audit.WithLogger(logger),
		audit.WithSampleSize(cfg.Audit.SampleSize),
	)
	report, err := auditor.GenerateReport(ctx)
	if err != nil {
		return err
	}

	if auditStdout {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	path := auditOut
	if path == "" {
		path = cfg.Audit.ReportPath
	}
	if err := audit.WriteReport(path, report); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d same-series duplicates, %d cross-series collisions, %d rows without series\n",
		path,
		len(report.DuplicatesInSameSeries),
		len(report.AccnoAcrossSeries),
		report.MissingSeriesCode.Count,
	)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var rows []catalog.BookCopy
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc := catalog.NewService(backend.Catalog(), catalog.WithLogger(logger))
	n, err := svc.Import(ctx, rows)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows\n", n)
	return nil
}

// parseAt parses a date flag. An empty value yields now, or the zero time
// when zeroIfEmpty is set so the server picks its own clock.
func parseAt(v string, zeroIfEmpty bool) (time.Time, error) {
	if v == "" {
		if zeroIfEmpty {
			return time.Time{}, nil
		}
		return time.Now(), nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func runActive(cmd *cobra.Command, args []string) error {
	at, err := parseAt(activeAt, false)
	if err != nil {
		return fmt.Errorf("invalid --at: %w", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer backend.Close()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	svc := circulation.NewService(backend.Circulation(),
		circulation.WithPolicy(policy),
		circulation.WithLogger(logger),
		circulation.WithPageSize(cfg.Circulation.PageSize),
	)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCESSION\tSERIES\tTITLE\tBORROWER\tDUE\tDAYS OVERDUE\tFINE")
	for issue, err := range svc.ActiveIssues(ctx, at) {
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			issue.BookAccession,
			issue.SeriesCode,
			issue.Title,
			issue.BorrowerID,
			issue.DueDate.Format(time.DateOnly),
			issue.DaysOverdue,
			issue.CurrentFine.StringFixed(2),
		)
	}
	return w.Flush()
}

func baseURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	addr := cfg.HTTP.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func runIssue(cmd *cobra.Command, args []string) error {
	on, err := parseAt(issueDate, true)
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}
	borrower := circulation.BorrowerStudent
	if issueFaculty {
		borrower = circulation.BorrowerFaculty
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	client := clients.NewCirculationClient(baseURL()+"/circulation", nil)
	rec, err := client.Issue(ctx, circulation.IssueRequest{
		AccessionNumber: args[0],
		SeriesCode:      issueSeries,
		BorrowerType:    borrower,
		BorrowerID:      args[1],
		IssueDate:       on,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "issued %s to %s: record %s, due %s\n",
		rec.BookAccession, rec.BorrowerID, rec.ID, rec.DueDate.Format(time.DateOnly))
	return nil
}

func runReturn(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid issue ID: %w", err)
	}
	on, err := parseAt(returnDate, true)
	if err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	client := clients.NewCirculationClient(baseURL()+"/circulation", nil)
	rec, err := client.Return(ctx, id, on)
	if err != nil {
		return err
	}
	fine := "0.00"
	if rec.FineAccrued != nil {
		fine = rec.FineAccrued.StringFixed(2)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "returned %s: fine %s\n", rec.BookAccession, fine)
	return nil
}

func catalogClient() *clients.CatalogClient {
	return clients.NewCatalogClient(baseURL()+"/catalog", nil)
}

func printCopy(cmd *cobra.Command, c *catalog.BookCopy) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\tavailable %d/%d\n",
		c.AccessionNumber, c.SeriesCode, c.Title, c.Status, c.Available, c.TotalQuantity)
}

func runCopyShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := catalogClient().GetCopy(ctx, args[0], copySeries)
	if err != nil {
		return err
	}
	printCopy(cmd, c)
	return nil
}

func runCopyAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	created, err := catalogClient().AddCopies(ctx, catalog.AddCopiesRequest{
		AccessionNumber: copyAccession,
		SeriesCode:      copySeries,
		Quantity:        copyQuantity,
		Descriptive:     catalog.Descriptive{Title: args[0], Author: copyAuthor},
	})
	if err != nil {
		return err
	}
	for _, c := range created {
		printCopy(cmd, c)
	}
	return nil
}

func runCopySetStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	c, err := catalogClient().SetStatus(ctx, args[0], copySeries, catalog.Status(strings.ToUpper(args[1])))
	if err != nil {
		return err
	}
	printCopy(cmd, c)
	return nil
}
