package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procline/internal/app"
	"procline/internal/config"
	"procline/internal/db"
	"procline/internal/engine"
	"procline/internal/repo"
	"procline/internal/server"
	"procline/internal/tui"
	"procline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "procline CLI",
	Long: `procline tracks processes as a tree of stages, steps and fields.
Core concepts:
- Process: the whole job. It starts in seeding while you lay it out, becomes active once started, and completes when every stage does.
- Stage and step: ordered groups. Their status and progress are derived from what they contain, never set by hand.
- Field: the unit of work. Text and file fields are closed or skipped by hand; task lists, tasks and dossiers are done when what they point at is done.
- Cascade: every field change rolls status up to its step, stage and process in one pass.
- Ordering: stages, steps and fields keep a dense order; move and reorder rewrite it, and pl board lets you drag rows around.
- Event log: diary of changes, view with 'pl log tail'.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROCLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringP("process", "p", "", "process id (defaults to the only process)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("process", rootCmd.PersistentFlags().Lookup("process"))
}

func registerCommands() {
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(fieldCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(reorderCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(authCmd())
}

func actorID() string {
	return viper.GetString("actor-id")
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "process", Short: "Manage processes"}
	cmd.AddCommand(processCreateCmd())
	cmd.AddCommand(processListCmd())
	cmd.AddCommand(processShowCmd())
	cmd.AddCommand(processLifecycleCmd("activate", "End seeding and start the process", engine.Engine.ActivateProcess))
	cmd.AddCommand(processLifecycleCmd("archive", "Archive the process", engine.Engine.ArchiveProcess))
	return cmd
}

func processCreateCmd() *cobra.Command {
	var id, name string
	var active bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a process",
		Long:  "New processes start in seeding so stages and fields can be laid out first; pass --active to skip that.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProcess(ctx, engine.ProcessCreateOptions{ID: id, Name: name, Active: active, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printProcesses(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "process id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "process name")
	cmd.Flags().BoolVar(&active, "active", false, "start active instead of seeding")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func processListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProcesses(ctx, repo.ProcessFilters{Status: status, Limit: limit})
				if err != nil {
					return err
				}
				return printProcesses(items...)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (seeding, active, completed, archived)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func processShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [process-id]",
		Short: "Show a process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), args, func(ctx context.Context, e engine.Engine, processID string) error {
				p, err := e.Repo.GetProcess(ctx, processID)
				if err != nil {
					return err
				}
				return printProcesses(p)
			})
		},
	}
	return cmd
}

func processLifecycleCmd(use, short string, run func(engine.Engine, context.Context, string, string) (workflow.Process, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [process-id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), args, func(ctx context.Context, e engine.Engine, processID string) error {
				p, err := run(e, ctx, processID, actorID())
				if err != nil {
					return err
				}
				return printProcesses(p)
			})
		},
	}
}

func stageCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stage", Short: "Manage stages"}
	var id, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Append a stage to the process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), nil, func(ctx context.Context, e engine.Engine, processID string) error {
				s, err := e.AddStage(ctx, engine.StageCreateOptions{ID: id, ProcessID: processID, Name: name, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printJSONOrLine(s, fmt.Sprintf("stage %s added at position %d", s.ID, s.OrderIndex+1))
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "stage id (generated when empty)")
	add.Flags().StringVar(&name, "name", "", "stage name")
	_ = add.MarkFlagRequired("name")
	cmd.AddCommand(add)
	return cmd
}

func stepCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "step", Short: "Manage steps"}
	var id, stageID, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Append a step to a stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddStep(ctx, engine.StepCreateOptions{ID: id, StageID: stageID, Name: name, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printJSONOrLine(s, fmt.Sprintf("step %s added to %s at position %d", s.ID, s.StageID, s.OrderIndex+1))
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "step id (generated when empty)")
	add.Flags().StringVar(&stageID, "stage", "", "stage id")
	add.Flags().StringVar(&name, "name", "", "step name")
	_ = add.MarkFlagRequired("stage")
	_ = add.MarkFlagRequired("name")
	cmd.AddCommand(add)
	return cmd
}

func fieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Manage fields",
		Long:  "Fields are the leaves of the tree. Every change here re-runs the status cascade up to the process.",
	}
	cmd.AddCommand(fieldAddCmd())
	cmd.AddCommand(fieldStatusCmd())
	cmd.AddCommand(fieldContentCmd())
	cmd.AddCommand(fieldDossierCmd())
	cmd.AddCommand(fieldRecalcCmd())
	cmd.AddCommand(fieldRemoveCmd())
	return cmd
}

func fieldAddCmd() *cobra.Command {
	var id, stepID, name, fieldType, content string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a field to a step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.AddField(ctx, engine.FieldCreateOptions{
					ID:      id,
					StepID:  stepID,
					Name:    name,
					Type:    workflow.FieldType(fieldType),
					Content: content,
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrLine(f, fmt.Sprintf("field %s (%s) added to %s", f.ID, f.Type, f.StepID))
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "field id (generated when empty)")
	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	cmd.Flags().StringVar(&name, "name", "", "field name")
	cmd.Flags().StringVar(&fieldType, "type", string(workflow.FieldText), "text, long_text, file, file_list, task, task_list or dossier")
	cmd.Flags().StringVar(&content, "content", "", "initial content")
	_ = cmd.MarkFlagRequired("step")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func fieldStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <field-id> <empty|open|closed|skipped>",
		Short: "Close, reopen or skip a field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ch, err := e.SetFieldStatus(ctx, args[0], workflow.FieldStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printChange(ch)
			})
		},
	}
}

func fieldContentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "content <field-id> <content>",
		Short: "Replace field content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ch, err := e.UpdateFieldContent(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printChange(ch)
			})
		},
	}
}

func fieldDossierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dossier <field-id> [referenced-field-id...]",
		Short: "Set the fields a dossier aggregates",
		Long:  "A dossier is done once every field it references is done. Passing no references clears it.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ch, err := e.SetDossierFields(ctx, args[0], args[1:], actorID())
				if err != nil {
					return err
				}
				return printChange(ch)
			})
		},
	}
}

func fieldRecalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalc <field-id>",
		Short: "Re-run the cascade from a field",
		Long:  "Safe to repeat. Use it to heal ancestors after a cascade reported cascade_incomplete.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ch, err := e.Recalculate(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printChange(ch)
			})
		},
	}
}

func fieldRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <field-id>",
		Short: "Remove a field and compact its step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RemoveField(ctx, args[0], actorID()); err != nil {
					return err
				}
				return printJSONOrLine(map[string]any{"removed": args[0]}, "removed "+args[0])
			})
		},
	}
}

func itemCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Manage task list items"}
	var id, fieldID, title, status string
	add := &cobra.Command{
		Use:   "add",
		Short: "Append an item to a task_list field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AddTaskListItem(ctx, engine.ItemCreateOptions{
					ID:      id,
					FieldID: fieldID,
					Title:   title,
					Status:  workflow.ItemStatus(status),
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrLine(it, fmt.Sprintf("item %s added to %s", it.ID, it.FieldID))
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "item id (generated when empty)")
	add.Flags().StringVar(&fieldID, "field", "", "task_list field id")
	add.Flags().StringVar(&title, "title", "", "item title")
	add.Flags().StringVar(&status, "status", "", "initial status (default not_started)")
	_ = add.MarkFlagRequired("field")
	_ = add.MarkFlagRequired("title")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "status <item-id> <not_started|planned|in_progress|done|wont_do>",
		Short: "Set an item status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ch, err := e.SetTaskListItemStatus(ctx, args[0], workflow.ItemStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printChange(ch)
			})
		},
	})
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage the tasks behind task fields"}
	var id, fieldID, title, assignee string
	attach := &cobra.Command{
		Use:   "attach",
		Short: "Attach a task to a task field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AttachTask(ctx, engine.TaskAttachOptions{
					ID:         id,
					FieldID:    fieldID,
					Title:      title,
					AssigneeID: assignee,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrLine(t, fmt.Sprintf("task %s attached to %s", t.ID, t.FieldID))
			})
		},
	}
	attach.Flags().StringVar(&id, "id", "", "task id (generated when empty)")
	attach.Flags().StringVar(&fieldID, "field", "", "task field id")
	attach.Flags().StringVar(&title, "title", "", "task title (defaults to the field name)")
	attach.Flags().StringVar(&assignee, "assignee", "", "assignee actor id")
	_ = attach.MarkFlagRequired("field")
	cmd.AddCommand(attach)
	cmd.AddCommand(&cobra.Command{
		Use:   "status <task-id> <open|in_progress|submitted|accepted|rejected>",
		Short: "Move a task through review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ch, err := e.SetTaskStatus(ctx, args[0], workflow.TaskStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printChange(ch)
			})
		},
	})
	return cmd
}

func reorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <stage|step|field> <container-id> <id>...",
		Short: "Rewrite the order of a container",
		Long:  "Lists every member of the container in the new order. Stages are ordered within a process, steps within a stage and fields within a step.",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := workflow.ParseItemKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tree, err := e.Reorder(ctx, kind, args[1], args[2:], actorID())
				if err != nil {
					return err
				}
				return printTree(tree)
			})
		},
	}
}

func moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <stage|step|field> <item-id> <to-container-id> <id>...",
		Short: "Move an item into another container",
		Long:  "The trailing ids are the full new order of the target container, including the moved item.",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := workflow.ParseItemKind(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Move(ctx, kind, args[1], args[2], args[3:], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("moved %s %s from %s to %s\n", kind, args[1], res.From, res.To)
				tree, err := e.Tree(ctx, res.Tree.Process().ID)
				if err != nil {
					return err
				}
				return printTree(tree)
			})
		},
	}
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [process-id]",
		Short: "Show the stage, step and field tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), args, func(ctx context.Context, e engine.Engine, processID string) error {
				tree, err := e.Tree(ctx, processID)
				if err != nil {
					return err
				}
				return printTree(tree)
			})
		},
	}
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board [process-id]",
		Short: "Open the interactive board",
		Long:  "Walk the tree with j/k, grab a row with m, move it and drop it with enter. Fields are closed with c, skipped with s and reopened with o.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), args, func(ctx context.Context, e engine.Engine, processID string) error {
				// engine logs would corrupt the alt screen
				e.Logger = log.New(io.Discard, "", 0)
				board := tui.NewBoard(ctx, e, processID, actorID())
				_, err := tea.NewProgram(board, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				return err
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "procline.yml sits next to the .procline directory. Without one, defaults apply.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configSchemaCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate procline.yml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			_, err := config.FromFile(path)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "path": path, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of procline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := config.Schema()
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default procline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "procline", "workspace name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: structure changes, field updates, moves and cascades.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail [process-id]",
		Short: "Tail events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), args, func(ctx context.Context, e engine.Engine, processID string) error {
				items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					ProcessID:  processID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, conn, err := app.OpenEngine(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if !cmd.Flags().Changed("addr") {
				addr = e.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") {
				basePath = e.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PROCLINE_JWT_SECRET"),
				AllowLegacyActorHeader: e.Config.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("PROCLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: log.Default()})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving procline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (defaults to server.base_path)")
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "API credentials"}
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id",
		Long:  "Signs with PROCLINE_JWT_SECRET, the same secret pl serve verifies with.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := server.SignToken(os.Getenv("PROCLINE_JWT_SECRET"), actorID(), ttl)
			if err != nil {
				return err
			}
			return printJSONOrLine(map[string]string{"token": tok}, tok)
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 never expires")
	cmd.AddCommand(token)
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.OpenEngine(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

// withProcess resolves the target process from args, --process or the only
// process of the workspace.
func withProcess(ctx context.Context, args []string, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		override := viper.GetString("process")
		if len(args) > 0 {
			override = args[0]
		}
		processID, err := app.ResolveProcess(ctx, override, e.Repo)
		if err != nil {
			return err
		}
		return fn(ctx, e, processID)
	})
}

func printProcesses(items ...workflow.Process) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Progress", "Created"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.State.Status(), fmt.Sprintf("%d%%", p.State.Progress()), p.CreatedAt})
	}
	tw.Render()
	return nil
}

func printChange(ch engine.Change) error {
	if viper.GetBool("json") {
		return printJSON(ch)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("field %s is %s", ch.Field.ID, ch.Field.Status))
	tw.AppendHeader(table.Row{"Level", "ID", "Status", "Progress"})
	appendCascade(tw, ch.Cascade.StepID, ch.Cascade.StageID, ch.Cascade.ProcessID, ch.Cascade.Step, ch.Cascade.Stage, ch.Cascade.Process)
	for _, d := range ch.Dependents {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"dossier", d.FieldID, "", ""})
		appendCascade(tw, d.StepID, d.StageID, d.ProcessID, d.Step, d.Stage, d.Process)
	}
	tw.Render()
	return nil
}

func appendCascade(tw table.Writer, stepID, stageID, processID string, step, stage, process workflow.Aggregate) {
	tw.AppendRow(table.Row{"step", stepID, step.Status(), fmt.Sprintf("%d%%", step.Progress())})
	tw.AppendRow(table.Row{"stage", stageID, stage.Status(), fmt.Sprintf("%d%%", stage.Progress())})
	tw.AppendRow(table.Row{"process", processID, process.Status(), fmt.Sprintf("%d%%", process.Progress())})
}

func printTree(tree *workflow.Tree) error {
	if viper.GetBool("json") {
		return printJSON(treeJSON(tree))
	}
	p := tree.Process()
	fmt.Printf("%s (%s %d%%)\n", p.Name, p.State.Status(), p.State.Progress())
	stages := tree.Stages()
	for i, st := range stages {
		stagePrefix, stageIndent := branch("", i == len(stages)-1)
		fmt.Printf("%s%s [%s %d%%]\n", stagePrefix, st.Name, st.State.Status(), st.State.Progress())
		steps := tree.StepsOf(st.ID)
		for j, sp := range steps {
			stepPrefix, stepIndent := branch(stageIndent, j == len(steps)-1)
			fmt.Printf("%s%s [%s %d%%]\n", stepPrefix, sp.Name, sp.State.Status(), sp.State.Progress())
			fields := tree.FieldsOf(sp.ID)
			for k, f := range fields {
				fieldPrefix, _ := branch(stepIndent, k == len(fields)-1)
				mark := " "
				if workflow.IsDone(f, tree) {
					mark = "x"
				}
				fmt.Printf("%s[%s] %s (%s, %s) %s\n", fieldPrefix, mark, f.Name, f.Type, f.Status, f.ID)
			}
		}
	}
	return nil
}

func branch(prefix string, last bool) (string, string) {
	if last {
		return prefix + "└── ", prefix + "    "
	}
	return prefix + "├── ", prefix + "│   "
}

// treeJSON nests the tree the way the API returns it.
func treeJSON(tree *workflow.Tree) map[string]any {
	var stages []map[string]any
	for _, st := range tree.Stages() {
		var steps []map[string]any
		for _, sp := range tree.StepsOf(st.ID) {
			var fields []map[string]any
			for _, f := range tree.FieldsOf(sp.ID) {
				fields = append(fields, map[string]any{"field": f, "done": workflow.IsDone(f, tree)})
			}
			steps = append(steps, map[string]any{"step": sp, "fields": fields})
		}
		stages = append(stages, map[string]any{"stage": st, "steps": steps})
	}
	return map[string]any{"process": tree.Process(), "stages": stages}
}

func printJSONOrLine(v any, line string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(line)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
