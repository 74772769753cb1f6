package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"farmline/internal/app"
	"farmline/internal/auth"
	"farmline/internal/config"
	"farmline/internal/db"
	"farmline/internal/domain"
	"farmline/internal/engine"
	"farmline/internal/repo"
	"farmline/internal/server"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "farmline",
	Short: "Farmline CLI",
	Long: `Farmline keeps a farm's crops, tasks and field activities in a local
workspace and serves dashboard analytics over HTTP.
- Workspace: the .farmline directory holding the SQLite database, plus farmline.yml.
- Crops: what is planted, with a lifecycle PLANNED -> PLANTED -> GROWING -> HARVESTED (or FAILED).
- Tasks: dated chores, optionally tied to a crop; pending tasks past their due date are overdue.
- Activities: watering, fertilizing, harvest and pest/disease observations recorded against a crop.
- Analytics: per-user totals over activities, optionally bounded by --start/--end.
- Event log: every write is journaled, view with 'farmline log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		level := zapcore.InfoLevel
		if cfg, err := config.LoadOptional(workspace); err == nil && cfg.Log.Level != "" {
			if err := level.Set(cfg.Log.Level); err != nil {
				return err
			}
		}
		if viper.GetBool("verbose") {
			level = zapcore.DebugLevel
		}
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		built, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FARMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringP("user", "u", "", "acting user id or email")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(cropCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if cmd.Flags().Changed("addr") {
					cfg.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					cfg.Server.BasePath = basePath
				}
				if cmd.Flags().Changed("dev-login") {
					cfg.Auth.DevLogin = devLogin
				}
				tokens, err := tokenAuthenticator(cfg)
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: cfg.Server.BasePath,
					Auth:     server.AuthConfig{Tokens: &tokens, DevLogin: cfg.Auth.DevLogin},
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving farmline api",
					zap.String("addr", cfg.Server.Addr),
					zap.String("database", db.Path(a.Workspace)),
					zap.String("base_path", cfg.Server.BasePath),
					zap.Bool("dev_login", cfg.Auth.DevLogin))
				fmt.Printf("Serving Farmline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", cfg.Server.Addr, cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides farmline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides farmline.yml)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose the dev login route")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	var email, username string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.CreateUser(ctx, email, username)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&username, "username", "", "display name")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("username")
	usr.AddCommand(create)
	return usr
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Session tokens"}
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := currentUser(ctx, a.Engine)
				if err != nil {
					return err
				}
				tokens, err := tokenAuthenticator(a.Config)
				if err != nil {
					return err
				}
				token, err := tokens.Issue(auth.Principal{UserID: u.ID, Email: u.Email, Username: u.Username})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token, "expires_in": tokens.TTL.String()})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	tok.AddCommand(mint)
	return tok
}

func cropCmd() *cobra.Command {
	crop := &cobra.Command{Use: "crop", Short: "Manage crops"}
	crop.AddCommand(cropListCmd())
	crop.AddCommand(cropCreateCmd())
	crop.AddCommand(cropStatusCmd())
	return crop
}

func cropListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List crops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				crops, err := e.ListCrops(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(crops)
				}
				tw := newTable(table.Row{"ID", "Name", "Variety", "Status", "Planted", "Harvest", "Area"})
				for _, c := range crops {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Variety, c.Status, day(c.PlantingDate), day(c.ExpectedHarvestDate), c.Area})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func cropCreateCmd() *cobra.Command {
	var name, variety, status, planted, harvest string
	var area float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a crop",
		RunE: func(cmd *cobra.Command, args []string) error {
			plantingDate, err := requiredDate("planted", planted)
			if err != nil {
				return err
			}
			harvestDate, err := requiredDate("harvest", harvest)
			if err != nil {
				return err
			}
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				c, err := e.CreateCrop(ctx, engine.CropCreateOptions{
					UserID:              u.ID,
					Name:                name,
					Variety:             variety,
					Status:              domain.CropStatus(strings.ToUpper(status)),
					PlantingDate:        plantingDate,
					ExpectedHarvestDate: harvestDate,
					Area:                area,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "crop name")
	cmd.Flags().StringVar(&variety, "variety", "", "variety")
	cmd.Flags().StringVar(&status, "status", "", "initial status (default PLANNED)")
	cmd.Flags().StringVar(&planted, "planted", "", "planting date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&harvest, "harvest", "", "expected harvest date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().Float64Var(&area, "area", 0, "area in hectares")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func cropStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <crop-id> <status>",
		Short: "Move a crop to a new lifecycle status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				c, err := e.UpdateCropStatus(ctx, u.ID, args[0], domain.CropStatus(strings.ToUpper(args[1])))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskListCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var due string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate, err := requiredDate("due", due)
			if err != nil {
				return err
			}
			opts.DueDate = dueDate
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				opts.UserID = u.ID
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.CropID, "crop", "", "crop id")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC 3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <task-id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				t, err := e.CompleteTask(ctx, u.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				f.UserID = u.ID
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				now := time.Now()
				tw := newTable(table.Row{"ID", "Title", "Due", "Crop", "State"})
				for _, t := range tasks {
					crop := ""
					if t.CropID != nil {
						crop = *t.CropID
					}
					state := "pending"
					switch {
					case t.Completed:
						state = "done"
					case t.DueDate.Before(now):
						state = "overdue"
					}
					tw.AppendRow(table.Row{t.ID, t.Title, day(t.DueDate), crop, state})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CropID, "crop", "", "crop filter")
	cmd.Flags().BoolVar(&f.OnlyPending, "pending", false, "only pending tasks")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max tasks")
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "activity",
		Short: "Record and list field activities",
		Long:  "Kinds: WATERING (quantity in litres), FERTILIZING (kg), HARVEST (yield), PEST_DISEASE (use --severity).",
	}
	act.AddCommand(activityRecordCmd())
	act.AddCommand(activityListCmd())
	return act
}

func activityRecordCmd() *cobra.Command {
	var opts engine.ActivityRecordOptions
	var kind, at string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Kind = domain.ActivityKind(strings.ToUpper(kind))
			if at != "" {
				t, ok := domain.ParseInstant(at)
				if !ok {
					return fmt.Errorf("--at: invalid date %q", at)
				}
				opts.OccurredAt = t
			}
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				opts.UserID = u.ID
				a, err := e.RecordActivity(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CropID, "crop", "", "crop id")
	cmd.Flags().StringVar(&kind, "kind", "", "WATERING, FERTILIZING, HARVEST or PEST_DISEASE")
	cmd.Flags().StringVar(&at, "at", "", "when it happened (default now)")
	cmd.Flags().Float64Var(&opts.Quantity, "quantity", 0, "amount")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit label")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "low, medium or high")
	cmd.Flags().StringVar(&opts.Description, "description", "", "notes")
	_ = cmd.MarkFlagRequired("crop")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func activityListCmd() *cobra.Command {
	var kind, start, end string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := rangeFlags(start, end)
			if err != nil {
				return err
			}
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				items, err := e.ListActivities(ctx, u.ID, domain.ActivityKind(strings.ToUpper(kind)), rng)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"When", "Kind", "Crop", "Quantity", "Unit", "Severity"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.OccurredAt.Format(time.RFC3339), a.Kind, a.CropID, a.Quantity, a.Unit, a.Severity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&start, "start", "", "inclusive lower bound")
	cmd.Flags().StringVar(&end, "end", "", "inclusive upper bound")
	return cmd
}

func analyticsCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show dashboard analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := rangeFlags(start, end)
			if err != nil {
				return err
			}
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				res, err := e.Analytics(ctx, u.ID, rng)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				d := res.Dashboard
				tw := newTable(table.Row{"Metric", "Value"})
				tw.SetTitle("Dashboard for " + u.Username)
				tw.AppendRows([]table.Row{
					{"Crops", d.TotalCrops},
					{"Active tasks", d.ActiveTasks},
					{"Overdue tasks", d.OverdueTasks},
					{"Harvests", d.RecentHarvests},
					{"Total yield", d.TotalYield},
					{"Water used", d.WaterUsage},
				})
				tw.AppendSeparator()
				tw.AppendRows([]table.Row{
					{"Watering events (avg)", fmt.Sprintf("%d (%.2f)", res.Water.Count, res.Water.AveragePerEvent)},
					{"Fertilizer total (avg)", fmt.Sprintf("%.2f (%.2f)", res.Fertilizer.TotalFertilizer, res.Fertilizer.AveragePerEvent)},
					{"Average yield", fmt.Sprintf("%.2f", res.Yield.AverageYield)},
					{"Pest/disease reports", res.PestDisease.Count},
				})
				for severity, n := range res.PestDisease.BySeverity {
					tw.AppendRow(table.Row{"  severity " + severity, n})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "inclusive lower bound for activity stats")
	cmd.Flags().StringVar(&end, "end", "", "inclusive upper bound for activity stats")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every write (users, crops, tasks, activities) is journaled with its payload.",
	}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, u domain.User) error {
				events, err := e.Repo.LatestEvents(ctx, u.ID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"#", "At", "Type", "Entity", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	log.AddCommand(tail)
	return log
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config (farmline.yml)",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default farmline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	var file string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				c   *config.Config
				err error
			)
			if file != "" {
				c, err = config.FromFile(file)
			} else {
				c, err = config.LoadOptional(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			if c.Auth.JWTSecret != "" {
				c.Auth.JWTSecret = "********"
			}
			return printJSONOrTable(c)
		},
	}
	show.Flags().StringVar(&file, "file", "", "read this YAML file instead of the workspace farmline.yml")
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace farmline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			_, err := config.Load(workspace)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err), "database": db.Path(workspace)})
			}
			if err != nil {
				return err
			}
			fmt.Printf("config OK (database at %s)\n", db.Path(workspace))
			return nil
		},
	}
	cfg.AddCommand(initCmd)
	cfg.AddCommand(show)
	cfg.AddCommand(validate)
	return cfg
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withUser(ctx context.Context, fn func(context.Context, engine.Engine, domain.User) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		u, err := currentUser(ctx, a.Engine)
		if err != nil {
			return err
		}
		logger.Debug("acting user", zap.String("user_id", u.ID))
		return fn(ctx, a.Engine, u)
	})
}

// currentUser resolves --user (or FARMLINE_USER) as an id, then as an email.
func currentUser(ctx context.Context, e engine.Engine) (domain.User, error) {
	ref := strings.TrimSpace(viper.GetString("user"))
	if ref == "" {
		return domain.User{}, errors.New("--user (or FARMLINE_USER) is required")
	}
	u, err := e.Repo.GetUser(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		u, err = e.Repo.GetUserByEmail(ctx, ref)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, fmt.Errorf("user %q not found", ref)
	}
	return u, err
}

// tokenAuthenticator prefers FARMLINE_JWT_SECRET over the config file.
func tokenAuthenticator(cfg *config.Config) (auth.TokenAuthenticator, error) {
	secret := os.Getenv("FARMLINE_JWT_SECRET")
	if secret == "" {
		secret = cfg.Auth.JWTSecret
	}
	if secret == "" {
		return auth.TokenAuthenticator{}, errors.New("FARMLINE_JWT_SECRET (or auth.jwt_secret) is required")
	}
	return auth.NewTokenAuthenticator(secret, cfg.Auth.TokenTTL, cfg.Auth.CookieName)
}

func requiredDate(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("--%s required", flag)
	}
	t, ok := domain.ParseInstant(v)
	if !ok {
		return time.Time{}, fmt.Errorf("--%s: invalid date %q", flag, v)
	}
	return t, nil
}

func rangeFlags(start, end string) (domain.DateRange, error) {
	var rng domain.DateRange
	if start != "" {
		t, ok := domain.ParseInstant(start)
		if !ok {
			return rng, fmt.Errorf("--start: invalid date %q", start)
		}
		rng.Start = &t
	}
	if end != "" {
		t, ok := domain.ParseInstant(end)
		if !ok {
			return rng, fmt.Errorf("--end: invalid date %q", end)
		}
		rng.End = &t
	}
	return rng, nil
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func day(t time.Time) string {
	return t.Format("2006-01-02")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
