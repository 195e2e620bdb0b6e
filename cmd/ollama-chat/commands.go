package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/FedericoBaratti/ollama-chat/internal/chat"
	"github.com/FedericoBaratti/ollama-chat/internal/config"
	"github.com/FedericoBaratti/ollama-chat/internal/knowledge"
	"github.com/FedericoBaratti/ollama-chat/internal/ollama"
	"github.com/FedericoBaratti/ollama-chat/internal/storage"
	"github.com/FedericoBaratti/ollama-chat/internal/worker"
)

func ollamaClient(cfg config.Config) *ollama.Client {
	return ollama.New(ollama.Config{
		BaseURL:        cfg.Ollama.BaseURL,
		ConnectTimeout: time.Duration(cfg.Ollama.ConnectTimeout) * time.Second,
		ReadTimeout:    time.Duration(cfg.Ollama.ReadTimeout) * time.Second,
		MaxRetries:     cfg.Ollama.MaxRetries,
	})
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the Ollama server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		models, err := ollamaClient(cfg).ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing models: %w", err)
		}

		if len(models) == 0 {
			fmt.Println("No models installed.")
			return nil
		}
		for _, m := range models {
			marker := "  "
			if m == cfg.Ollama.DefaultModel {
				marker = colorize(colorGreen, "* ")
			}
			fmt.Printf("%s%s\n", marker, m)
		}
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a single message and stream the reply",
	Long: `Send a single message to the model and stream the reply to stdout.

Talks to Ollama directly; the server does not need to be running. With
--project the message is augmented with matching content from that
project's knowledge base.

Examples:
  ollama-chat ask "explain goroutines"
  ollama-chat ask --model llama3.2 --project 1f3a... "what is our refund policy?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		model, _ := cmd.Flags().GetString("model")
		projectID, _ := cmd.Flags().GetString("project")
		system, _ := cmd.Flags().GetString("system")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if model == "" {
			model = cfg.Ollama.DefaultModel
		}
		if model == "" {
			return fmt.Errorf("no model selected: use --model or set ollama.default_model")
		}
		if system == "" {
			system = cfg.Chat.SystemPrompt
		}

		var contextBlock string
		if projectID != "" {
			contextBlock, err = projectContext(cfg, projectID, message)
			if err != nil {
				return err
			}
			if contextBlock != "" {
				printStep("Using knowledge context (%d chars)", len(contextBlock))
			}
		}

		return runAsk(cmd.Context(), ollamaClient(cfg), cfg, model, system, message, contextBlock, samplingOptions(cmd))
	},
}

// samplingOptions builds the optional sampling overrides from flags the
// user actually set.
func samplingOptions(cmd *cobra.Command) *ollama.Options {
	opts := &ollama.Options{}
	if cmd.Flags().Changed("temperature") {
		v, _ := cmd.Flags().GetFloat64("temperature")
		opts.Temperature = &v
	}
	if cmd.Flags().Changed("top-p") {
		v, _ := cmd.Flags().GetFloat64("top-p")
		opts.TopP = &v
	}
	if cmd.Flags().Changed("top-k") {
		v, _ := cmd.Flags().GetInt("top-k")
		opts.TopK = &v
	}
	if opts.IsZero() {
		return nil
	}
	return opts
}

func projectContext(cfg config.Config, projectID, query string) (string, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return "", fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	if _, err := store.GetProject(projectID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("project %s not found", projectID)
		}
		return "", err
	}

	eng := knowledge.NewEngine(store, nil)
	return eng.ContextForQuery(query, projectID, cfg.Knowledge.ContextLength)
}

func runAsk(ctx context.Context, client worker.Client, cfg config.Config, model, system, message, contextBlock string, opts *ollama.Options) error {
	conv := chat.NewConversation(cfg.Chat.MaxMessages)
	if system != "" {
		conv.SetSystemMessage(system)
	}

	w := worker.New(client, conv, opts)
	w.SetModel(model)

	done := make(chan error, 1)
	w.Subscribe(&worker.Hooks{
		OnMessageChunk: func(delta string) {
			fmt.Print(delta)
		},
		OnMessageCompleted: func(string) {
			fmt.Println()
			done <- nil
		},
		OnGenerationStopped: func() {
			fmt.Println()
			done <- nil
		},
		OnErrorOccurred: func(msg string) {
			done <- errors.New(msg)
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(runCtx)

	if !w.SendMessage(message, contextBlock) {
		return fmt.Errorf("could not queue message")
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		w.RequestStop()
		return ctx.Err()
	}
}

func init() {
	askCmd.Flags().String("model", "", "model to use (default: ollama.default_model)")
	askCmd.Flags().String("project", "", "project ID for knowledge context")
	askCmd.Flags().String("system", "", "system prompt (default: chat.system_prompt)")
	askCmd.Flags().Float64("temperature", 0, "sampling temperature")
	askCmd.Flags().Float64("top-p", 0, "nucleus sampling probability mass")
	askCmd.Flags().Int("top-k", 0, "sampling candidate pool size")
}

// --- project ---

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage knowledge projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"name": args[0], "description": description}
		resp, err := client.post(cmd.Context(), "/projects", body)
		if err != nil {
			return err
		}

		var p storage.Project
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		printSuccess("Created project %s (%s)", p.Name, p.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects")
		if err != nil {
			return err
		}

		var projects []storage.Project
		if err := decodeJSON(resp, &projects); err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("No projects found.")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%s  %s", colorize(colorCyan, p.ID), colorize(colorBold, p.Name))
			if p.Description != "" {
				fmt.Printf("  %s", p.Description)
			}
			fmt.Println()
		}
		return nil
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project and its stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects/"+args[0])
		if err != nil {
			return err
		}
		var p storage.Project
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		statsResp, err := client.get(cmd.Context(), "/projects/"+args[0]+"/stats")
		if err != nil {
			return err
		}
		var stats storage.ProjectStats
		if err := decodeJSON(statsResp, &stats); err != nil {
			return err
		}

		printStatus("Name", "%s", p.Name)
		if p.Description != "" {
			printStatus("Description", "%s", p.Description)
		}
		printStatus("Created", "%s", p.CreatedAt.Format(time.RFC3339))
		printStatus("Files", "%d (%d bytes)", stats.TotalFiles, stats.TotalSize)
		for typ, count := range stats.FileTypes {
			printStatus("  "+typ, "%d", count)
		}
		return nil
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update <id> <name>",
	Short: "Rename a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"name": args[1], "description": description}
		resp, err := client.patch(cmd.Context(), "/projects/"+args[0], body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Updated project %s", args[0])
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project and all its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the project and ALL its files. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/projects/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted project %s", args[0])
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().String("description", "", "project description")
	projectUpdateCmd.Flags().String("description", "", "project description")
	projectDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectUpdateCmd)
	projectCmd.AddCommand(projectDeleteCmd)
}

// --- file ---

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage knowledge files",
}

var fileAddCmd = &cobra.Command{
	Use:   "add <project-id> <path>...",
	Short: "Add files to a project",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		for _, path := range args[1:] {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			body := uploadBody(filepath.Base(path), data)
			resp, err := client.post(cmd.Context(), "/projects/"+projectID+"/files", body)
			if err != nil {
				return err
			}

			var result struct {
				Status string             `json:"status"`
				File   storage.FileRecord `json:"file"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}

			if result.Status == "exists" {
				printWarning("%s already stored as %s", path, result.File.ID)
			} else {
				printSuccess("Added %s (%s)", path, result.File.ID)
			}
		}
		return nil
	},
}

var fileListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List files in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects/"+args[0]+"/files")
		if err != nil {
			return err
		}

		var files []storage.FileRecord
		if err := decodeJSON(resp, &files); err != nil {
			return err
		}

		if len(files) == 0 {
			fmt.Println("No files found.")
			return nil
		}
		for _, f := range files {
			fmt.Printf("%s  %-30s  %s  %d bytes\n",
				colorize(colorCyan, f.ID), f.Filename, f.MimeType, f.Size)
		}
		return nil
	},
}

var fileDeleteCmd = &cobra.Command{
	Use:   "delete <file-id>",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/files/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted file %s", args[0])
		return nil
	},
}

// uploadBody base64-encodes the payload so binary files survive the JSON
// transport.
func uploadBody(filename string, data []byte) map[string]string {
	return map[string]string{
		"filename": filename,
		"content":  base64.StdEncoding.EncodeToString(data),
		"encoding": "base64",
	}
}

func init() {
	fileCmd.AddCommand(fileAddCmd)
	fileCmd.AddCommand(fileListCmd)
	fileCmd.AddCommand(fileDeleteCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <project-id> <query>",
	Short: "Search a project's knowledge base",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		query := strings.Join(args[1:], " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/projects/%s/search?q=%s&limit=%d", projectID, url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var hits []storage.SearchHit
		if err := decodeJSON(resp, &hits); err != nil {
			return err
		}

		if len(hits) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, h := range hits {
			fmt.Printf("\n%s  %s\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), h.Filename)
			if h.Snippet != "" {
				fmt.Printf("  %s\n", h.Snippet)
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
