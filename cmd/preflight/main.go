package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/preflight/internal/bank"
	"github.com/pavelanni/preflight/internal/handler"
	appI18n "github.com/pavelanni/preflight/internal/i18n"
	"github.com/pavelanni/preflight/internal/llm"
	"github.com/pavelanni/preflight/internal/llm/prompts"
	"github.com/pavelanni/preflight/internal/model"
	"github.com/pavelanni/preflight/internal/risk"
	"github.com/pavelanni/preflight/internal/store"
)

//go:generate templ generate -path ../../internal/handler/views

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "preflight",
		Short: "Pre-flight personal risk assessment service for flight schools",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), evaluateCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `preflight --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "preflight.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP risk assessment server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("banks", "b", nil, "Question bank files to import at startup (repeatable, JSON or YAML)")
	f.Bool("replace-changed", false, "Re-import bank files whose contents changed since their last import")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /school)")
	f.Float64("caution-ratio", risk.DefaultCautionRatio, "Fraction of the maximum score that starts the caution band (0 disables)")
	f.Int64("max-upload-size", 10<<20, "Maximum question bank upload size in bytes")
	f.String("llm-url", "", "OpenAI-compatible API base URL for mitigation advice (empty disables advice)")
	f.String("llm-key", "", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.VariantBrief), "Advice prompt variant (brief, detailed)")
	f.Duration("advice-timeout", 15*time.Second, "Upper bound on mitigation advice per submission")
	addCommonFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import BANK...",
		Short: "Import question bank files (JSON or YAML) into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	cmd.Flags().Bool("replace-changed", false, "Re-import files whose contents changed since their last import")
	addCommonFlags(cmd)
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a response file against the active configuration",
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	f.StringP("input", "i", "-", "Submission JSON file (- for stdin)")
	f.Float64("caution-ratio", risk.DefaultCautionRatio, "Fraction of the maximum score that starts the caution band (0 disables)")
	f.Bool("save", false, "Store the assessment in the database")
	f.StringP("lang", "l", "en", "Language of the verdict message (en, ru)")
	addCommonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export assessment history as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("student", "", "Only export assessments of this learner")
	f.String("result", "", "Only export assessments with this effective result (go, caution, no_go)")
	f.Int("limit", 0, "Maximum number of assessments (0 = all)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(cmd)
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PREFLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("preflight")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/preflight")
	v.AddConfigPath("/etc/preflight")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup configures logging and opens the database for a command.
func setup(cmd *cobra.Command) (*viper.Viper, *store.Store, error) {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return v, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, path := range v.GetStringSlice("banks") {
		if _, err := bank.ImportFile(db, path, v.GetBool("replace-changed")); err != nil {
			return fmt.Errorf("load question bank: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var advisor handler.Advisor
	if url := v.GetString("llm-url"); url != "" {
		client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"),
			strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant"))))
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = client.Ping(ctx)
		cancel()
		if err != nil {
			// Advice is optional; the service runs without it.
			slog.Warn("LLM endpoint unavailable, mitigation advice disabled", "url", url, "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
			advisor = client
		}
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.ServerConfig{
		BasePath:      basePath,
		CautionRatio:  v.GetFloat64("caution-ratio"),
		AdviceTimeout: v.GetDuration("advice-timeout"),
		MaxUploadSize: v.GetInt64("max-upload-size"),
	}

	h, err := handler.New(db, advisor, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"base_path", basePath,
		"caution_ratio", cfg.CautionRatio,
		"advice", advisor != nil,
	)
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, args []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, path := range args {
		res, err := bank.ImportFile(db, path, v.GetBool("replace-changed"))
		if err != nil {
			return err
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}

// submissionFile is the input format of the evaluate command.
type submissionFile struct {
	StudentID       string           `json:"student_id"`
	FlightSessionID string           `json:"flight_session_id"`
	MissionID       string           `json:"mission_id"`
	Notes           string           `json:"notes"`
	Responses       []model.Response `json:"responses"`
}

type evaluateOutput struct {
	Assessment *model.Assessment `json:"assessment"`
	Verdict    string            `json:"verdict"`
	Saved      bool              `json:"saved"`
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	data, err := readInput(cmd, v.GetString("input"))
	if err != nil {
		return err
	}
	var sub submissionFile
	if err := json.Unmarshal(data, &sub); err != nil {
		return fmt.Errorf("parse submission: %w", err)
	}

	snap, err := db.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}

	a, err := risk.New(v.GetFloat64("caution-ratio")).Evaluate(risk.Input{
		LearnerID:       sub.StudentID,
		FlightSessionID: sub.FlightSessionID,
		MissionID:       sub.MissionID,
		Notes:           sub.Notes,
		Config:          snap.Config,
		Questions:       snap.Questions,
		Responses:       sub.Responses,
	})
	if err != nil {
		slog.Error("evaluation rejected", "kind", risk.Kind(err), "questions", risk.QuestionIDs(err))
		return err
	}

	out := evaluateOutput{Assessment: a}
	if v.GetBool("save") {
		if sub.StudentID == "" {
			return fmt.Errorf("student_id is required to save an assessment")
		}
		if _, err := db.SaveAssessment(a); err != nil {
			return fmt.Errorf("save assessment: %w", err)
		}
		out.Saved = true
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(v.GetString("lang")))
	out.Verdict = appI18n.Verdict(ctx, a)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	filter := model.AssessmentFilter{
		LearnerID: v.GetString("student"),
		Result:    model.Result(v.GetString("result")),
		Limit:     v.GetInt("limit"),
	}
	if filter.Result != "" && !filter.Result.Valid() {
		return fmt.Errorf("invalid result filter %q", filter.Result)
	}

	records, err := db.ExportAssessments(filter)
	if err != nil {
		return fmt.Errorf("export assessments: %w", err)
	}
	cfg, err := db.GetActiveConfig()
	if err != nil {
		return fmt.Errorf("get active config: %w", err)
	}
	if records == nil {
		records = []model.AssessmentRecord{}
	}

	export := model.AssessmentExport{
		ExportedAt:  time.Now().UTC(),
		Config:      cfg,
		Count:       len(records),
		Assessments: records,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	slog.Info("exported assessments", "count", len(records))
	return nil
}
