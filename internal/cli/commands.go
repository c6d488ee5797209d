package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/wellspend/cmd/api"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/repository"
	"github.com/FACorreiaa/wellspend/internal/domain/ingest/service"
	"github.com/FACorreiaa/wellspend/pkg/cron"
	"github.com/FACorreiaa/wellspend/pkg/interceptors"
	"github.com/FACorreiaa/wellspend/pkg/money"
)

// sourceByType is used when --data-source is omitted.
var sourceByType = map[string]repository.DataSource{
	"text/csv":         repository.SourceCSVUpload,
	"application/json": repository.SourceJSONUpload,
}

func (app *CLIApp) ingestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run a local file through the ingestion pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			category, _ := cmd.Flags().GetString("category")
			source, _ := cmd.Flags().GetString("data-source")
			userFlag, _ := cmd.Flags().GetString("user")

			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("invalid --user %q: %v", userFlag, err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			mimeType := service.TypeByExtension(path)
			if source == "" {
				source = string(sourceByType[mimeType])
			}

			// The server owns the search index and rebuilds it from the store.
			app.cfg.Search.Enabled = false

			out := cmd.OutOrStdout()
			return app.withDependencies(cmd.Context(), app.logger(false), func(deps *api.Dependencies) error {
				spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Processing " + filepath.Base(path))
				res, err := deps.IngestService.Upload(cmd.Context(), &service.UploadRequest{
					File: &service.File{
						Name:     filepath.Base(path),
						MimeType: mimeType,
						Data:     data,
					},
					Category:   category,
					DataSource: source,
					UserID:     userID,
				})
				if spinner != nil {
					_ = spinner.Stop()
				}
				if err != nil {
					return err
				}

				if res.Partial() {
					printWarning(out, "File uploaded but processing failed: %v", res.Err)
					return fmt.Errorf("upload %s failed", res.UploadID)
				}

				printSuccess(out, "File uploaded and processed successfully")
				return printTable(out,
					[]string{"Upload", "Records", "Aggregation", "Total"},
					[][]string{{
						res.UploadID.String(),
						strconv.Itoa(res.RecordsProcessed),
						res.Aggregation.Outcome.String(),
						res.Aggregation.Total.StringFixed(2),
					}},
				)
			})
		},
	}

	cmd.Flags().StringP("file", "f", "", "CSV or JSON file to ingest")
	cmd.Flags().String("category", "", "Category applied to every record")
	cmd.Flags().String("data-source", "", "Data source, e.g. CSV_UPLOAD (inferred from the file type when omitted)")
	cmd.Flags().String("user", "", "Uploader user ID")
	requireFlags(cmd, "file", "category", "user")
	return cmd
}

func (app *CLIApp) uploadsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List a user's uploads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userFlag, _ := cmd.Flags().GetString("user")
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("invalid --user %q: %v", userFlag, err)
			}

			// The server owns the search index and rebuilds it from the store.
			app.cfg.Search.Enabled = false

			out := cmd.OutOrStdout()
			return app.withDependencies(cmd.Context(), app.logger(false), func(deps *api.Dependencies) error {
				uploads, err := deps.IngestService.ListUploads(cmd.Context(), userID)
				if err != nil {
					return err
				}
				if len(uploads) == 0 {
					printInfo(out, "No uploads found")
					return nil
				}

				rows := make([][]string, 0, len(uploads))
				for _, u := range uploads {
					errLog := ""
					if u.ErrorLog != nil {
						errLog = *u.ErrorLog
					}
					rows = append(rows, []string{
						u.ID.String(),
						u.OriginalName,
						string(u.Status),
						strconv.Itoa(u.RecordCount),
						u.CreatedAt.Format(time.RFC3339),
						errLog,
					})
				}
				return printTable(out, []string{"ID", "File", "Status", "Records", "Created", "Error"}, rows)
			})
		},
	}
	cmd.Flags().String("user", "", "Uploader user ID")
	requireFlags(cmd, "user")
	return cmd
}

func (app *CLIApp) metricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show aggregated cost metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			period, _ := cmd.Flags().GetString("period")
			category, _ := cmd.Flags().GetString("category")

			// The server owns the search index and rebuilds it from the store.
			app.cfg.Search.Enabled = false

			out := cmd.OutOrStdout()
			return app.withDependencies(cmd.Context(), app.logger(false), func(deps *api.Dependencies) error {
				views, err := deps.MetricsService.List(cmd.Context(), repository.MetricFilter{
					Period:   period,
					Category: category,
				})
				if err != nil {
					return err
				}
				if len(views) == 0 {
					printInfo(out, "No metrics found")
					return nil
				}

				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{v.Name, v.Period, v.Category, v.Display, strconv.Itoa(v.Metadata.RecordCount)})
				}
				return printTable(out, []string{"Metric", "Period", "Category", "Value", "Records"}, rows)
			})
		},
	}
	cmd.Flags().String("period", "", "Period filter, YYYY-MM")
	cmd.Flags().String("category", "", "Category filter")
	return cmd
}

func (app *CLIApp) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail uploads stuck in processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := app.logger(false)
			deps, err := api.InitStore(app.cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Cleanup()

			sched := cron.NewScheduler(deps.Store, app.cfg.Sweeper.Schedule, app.cfg.Sweeper.StaleAfter, logger)
			n, err := sched.SweepStaleUploads(cmd.Context())
			if err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "%d stale upload(s) marked failed", n)
			return nil
		},
	}
}

func (app *CLIApp) generateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic cost export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, _ := cmd.Flags().GetInt("rows")
			format, _ := cmd.Flags().GetString("format")
			seed, _ := cmd.Flags().GetInt64("seed")
			outPath, _ := cmd.Flags().GetString("out")

			if rows <= 0 {
				return errors.New("--rows must be positive")
			}

			gen := money.NewCostGeneratorWithSeed(seed)
			lines := gen.Lines(rows)

			var (
				data []byte
				err  error
			)
			switch strings.ToLower(format) {
			case "csv":
				data, err = gen.CSV(lines)
			case "json":
				data, err = gen.JSON(lines)
			default:
				return fmt.Errorf("unsupported --format %q: use csv or json", format)
			}
			if err != nil {
				return err
			}

			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			printSuccess(cmd.ErrOrStderr(), "Wrote %d rows to %s", rows, outPath)
			return nil
		},
	}
	cmd.Flags().Int("rows", 100, "Number of cost lines")
	cmd.Flags().String("format", "csv", "Output format: csv or json")
	cmd.Flags().Int64("seed", 0, "Random seed, 0 for a random one")
	cmd.Flags().StringP("out", "o", "", "Output file (default: stdout)")
	return cmd
}

func (app *CLIApp) tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userFlag, _ := cmd.Flags().GetString("user")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			if app.cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}

			userID := uuid.New()
			if userFlag != "" {
				parsed, err := uuid.Parse(userFlag)
				if err != nil {
					return fmt.Errorf("invalid --user %q: %v", userFlag, err)
				}
				userID = parsed
			}

			token, err := interceptors.IssueToken([]byte(app.cfg.Auth.JWTSecret), userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			printInfo(cmd.ErrOrStderr(), "Token for %s expires in %s", userID, ttl)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User ID (default: a new random ID)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
