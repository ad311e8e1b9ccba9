package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inspectline/internal/app"
	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/identity"
	"inspectline/internal/server"
	"inspectline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "il",
	Short: "Inspectline CLI",
	Long: `Inspectline tracks inspection forms through a review workflow.
Core concepts:
- Workspace: your .inspectline directory holding the database; config lives in inspectline.yml.
- Forms: inspection documents built from templates. They flow draft -> pending -> approved/declined, with an optional assigned stop while an admin claims the review.
- Roles: your email domain decides who you are. Addresses under the configured admin domain review; everyone else fills in and submits their own forms.
- Declined forms loop: the creator edits and resubmits them.
- Templates: read-only blueprints for form content, imported by admins.
- Event log: diary of every create, save, and transition; view with 'il log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("INSPECTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-email", "", "actor email (role derives from its domain)")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-email", rootCmd.PersistentFlags().Lookup("actor-email"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(formCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(whoamiCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			ac, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer ac.Close()
			fmt.Printf("Initialized workspace: %s and %s\n", db.Path(workspace), cfgPath)
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				return printJSONOrIndent(ac.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			_ = cfg
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func formCmd() *cobra.Command {
	form := &cobra.Command{
		Use:   "form",
		Short: "Manage inspection forms",
		Long:  "Forms are the inspection documents. Save drafts, submit them for review, and (as an admin) assign, approve, or decline pending submissions.",
	}
	form.AddCommand(formSaveCmd())
	form.AddCommand(formListCmd())
	form.AddCommand(formShowCmd())
	form.AddCommand(formActionCmd("submit", "Submit a form for review"))
	form.AddCommand(formActionCmd("approve", "Approve a pending form"))
	form.AddCommand(formActionCmd("decline", "Decline a pending form"))
	form.AddCommand(formActionCmd("assign", "Claim a pending form for review"))
	return form
}

func formSaveCmd() *cobra.Command {
	var p engine.SavePayload
	var metaJSON, inspectionJSON string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a form",
		RunE: func(cmd *cobra.Command, args []string) error {
			if metaJSON != "" {
				if err := json.Unmarshal([]byte(metaJSON), &p.MetaData); err != nil {
					return fmt.Errorf("invalid --meta-json: %w", err)
				}
			}
			if inspectionJSON != "" {
				if err := json.Unmarshal([]byte(inspectionJSON), &p.InspectionData); err != nil {
					return fmt.Errorf("invalid --inspection-json: %w", err)
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				f, err := ac.Engine.Save(ctx, cliIdentity(ac.Config), p)
				if err != nil {
					return err
				}
				return printJSONOrIndent(f)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "form id (omit to create)")
	cmd.Flags().StringVar(&p.Type, "type", "", "form type")
	cmd.Flags().StringVar(&p.TemplateID, "template-id", "", "template id")
	cmd.Flags().StringVar(&p.TemplateName, "template-name", "", "template name")
	cmd.Flags().StringVar(&metaJSON, "meta-json", "", "meta data JSON")
	cmd.Flags().StringVar(&inspectionJSON, "inspection-json", "", "inspection data JSON")
	cmd.Flags().StringVar(&p.Status, "status", "", "status (create only; defaults to draft)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func formActionCmd(action, short string) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				res, err := ac.Engine.Operate(ctx, id, action, cliIdentity(ac.Config), comment)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %s -> %s\n", res.FormID, res.OldStatus, res.NewStatus)
				return nil
			})
		},
	}
	if action == "approve" || action == "decline" {
		cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	}
	return cmd
}

func formListCmd() *cobra.Command {
	var opts engine.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List forms visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				res, err := ac.Engine.List(ctx, cliIdentity(ac.Config), opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Creator", "Created", "Submitted", "Reviewed"})
				for _, item := range res.Items {
					tw.AppendRow(table.Row{
						item.ID, item.Type, item.Status, item.Creator,
						item.CreatedAtDisplay, item.SubmittedAtDisplay, item.ReviewedAtDisplay,
					})
				}
				tw.Render()
				fmt.Printf("page %d/%d (%d total)\n", res.Pagination.Current, res.Pagination.TotalPages, res.Pagination.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter (or 'all')")
	cmd.Flags().StringVar(&opts.ViewMode, "view", "", "view mode (inspector, reviewer)")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "page size (0 for config default)")
	return cmd
}

func formShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				f, err := ac.Engine.Get(ctx, cliIdentity(ac.Config), id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(f)
			})
		},
	}
	return cmd
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage form templates",
	}
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	tpl.AddCommand(templateImportCmd())
	return tpl
}

func templateListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				items, err := ac.Engine.Store.ListTemplates(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Active"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Type, t.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active templates")
	return cmd
}

func templateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				t, err := ac.Engine.Store.GetTemplate(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
	return cmd
}

func templateImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import templates from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var templates []domain.Template
			if err := json.Unmarshal(data, &templates); err != nil {
				// allow a single template object too
				var single domain.Template
				if err2 := json.Unmarshal(data, &single); err2 != nil {
					return fmt.Errorf("invalid template file: %w", err)
				}
				templates = []domain.Template{single}
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				now := time.Now().UTC().Format(time.RFC3339)
				for i := range templates {
					if templates[i].ID == "" {
						return fmt.Errorf("template %d: id is required", i)
					}
					if templates[i].CreatedAt == "" {
						templates[i].CreatedAt = now
					}
					if err := ac.Engine.Store.UpsertTemplate(ctx, templates[i]); err != nil {
						return fmt.Errorf("import %s: %w", templates[i].ID, err)
					}
				}
				fmt.Printf("imported %d template(s)\n", len(templates))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON template file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, actorEmail, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" || actorEmail == "" {
				return fmt.Errorf("--actor and --email required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				plaintext := uuid.New().String()
				key := domain.APIKey{
					ID:         uuid.New().String(),
					ActorID:    actorID,
					ActorEmail: actorEmail,
					Name:       name,
					KeyHash:    store.HashAPIKey(plaintext),
					CreatedAt:  time.Now().UTC().Format(time.RFC3339),
				}
				if err := ac.Engine.Store.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "key": plaintext})
				}
				fmt.Printf("created key %s\nsecret (shown once): %s\n", key.ID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key acts as")
	cmd.Flags().StringVar(&actorEmail, "email", "", "actor email (role derives from its domain)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				keys, err := ac.Engine.Store.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Email", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.ActorEmail, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				return ac.Engine.Store.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: form creates, saves, and lifecycle transitions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				events, err := ac.Engine.Store.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity CLI commands act as",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				return printJSONOrIndent(cliIdentity(ac.Config))
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				secret := ac.Config.Auth.JWTSecret
				if env := os.Getenv("INSPECTLINE_JWT_SECRET"); env != "" {
					secret = env
				}
				if secret == "" {
					return fmt.Errorf("jwt secret is required for bearer auth; set auth.jwt_secret or INSPECTLINE_JWT_SECRET")
				}
				authCfg := server.AuthConfig{
					JWTSecret:              secret,
					AdminDomain:            ac.Config.Auth.AdminDomain,
					AllowLegacyActorHeader: ac.Config.Auth.AllowLegacyActorHeader,
					DevLoginEnabled:        ac.Config.Auth.DevLoginEnabled,
				}
				handler, err := server.New(server.Config{Engine: ac.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Inspectline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	ac, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ac.Close()
	return fn(ctx, ac)
}

func cliIdentity(cfg *config.Config) domain.Identity {
	return identity.Resolve(
		viper.GetString("actor-id"),
		viper.GetString("actor-email"),
		viper.GetString("actor-name"),
		cfg.Auth.AdminDomain,
	)
}

func printJSONOrIndent(v any) error {
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
