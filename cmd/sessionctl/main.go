package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wellness-sessions/internal/client"
	"wellness-sessions/internal/model"
)

type globalFlags struct {
	api   string
	token string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Command line client for the wellness sessions API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.api, "api", envOr("SESSIONCTL_API", "http://localhost:8080"), "Base URL of the sessions API")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("SESSIONCTL_TOKEN"), "Bearer token (or SESSIONCTL_TOKEN)")

	cmd.AddCommand(
		newLoginCommand(g),
		newRegisterCommand(g),
		newListCommand(g),
		newMineCommand(g),
		newGetCommand(g),
		newSaveCommand(g, model.StatusDraft),
		newSaveCommand(g, model.StatusPublished),
		newDeleteCommand(g),
		newEditCommand(g),
	)
	return cmd
}

func (g *globalFlags) client() *client.Client {
	return client.New(g.api, client.WithToken(g.token))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newLoginCommand(g *globalFlags) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().Login(commandContext(cmd), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account username")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCommand(g *globalFlags) *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and print a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().Register(commandContext(cmd), username, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account username")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (8+ characters)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newListCommand(g *globalFlags) *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Browse published sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := g.client().ListPublished(commandContext(cmd), opts)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tDURATION\tTAGS\tAUTHOR")
			for _, s := range page.Sessions {
				author := ""
				if s.Author != nil {
					author = s.Author.Username
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%dm\t%s\t%s\n", s.ID, s.Title, s.Category, s.Duration, displayTags(s.Tags), author)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			p := page.Pagination
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d (%d sessions)\n", p.CurrentPage, p.TotalPages, p.TotalSessions)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "Sessions per page")
	cmd.Flags().StringVar(&opts.Category, "category", "", "Filter by category")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "Filter by tag (repeatable)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "Search title and description")
	return cmd
}

func newMineCommand(g *globalFlags) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List your own sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := g.client().ListMine(commandContext(cmd), status)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Status, s.Title, s.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only sessions with this status (draft|published)")
	return cmd
}

func newGetCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one of your sessions as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.client().Get(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
}

// newSaveCommand builds save-draft and publish. The session body is JSON read
// from --file or stdin.
func newSaveCommand(g *globalFlags, status string) *cobra.Command {
	var id, file string
	use, short := "save-draft", "Save a session as draft"
	if status == model.StatusPublished {
		use, short = "publish", "Publish a session"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			req := client.SaveRequest{ID: id, SessionContent: content}
			c := g.client()
			var saved *model.Session
			if status == model.StatusPublished {
				saved, err = c.Publish(commandContext(cmd), req)
			} else {
				saved, err = c.SaveDraft(commandContext(cmd), req)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), saved)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Existing session id to replace")
	cmd.Flags().StringVar(&file, "file", "", "Read the session JSON from this file instead of stdin")
	return cmd
}

func newDeleteCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().Delete(commandContext(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

// newEditCommand streams edits from stdin, one JSON object per line, each
// merged into the working copy. Edits are auto-saved as a draft after the
// configured quiet period; at end of input the session is saved (or
// published) explicitly.
func newEditCommand(g *globalFlags) *cobra.Command {
	var (
		id      string
		delay   time.Duration
		publish bool
		discard bool
	)
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit a session from line-delimited JSON on stdin with auto-save",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			c := g.client()
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()

			opts := []client.EditorOption{
				client.WithAutoSaveDelay(delay),
				client.WithOnAutoSave(func(s *model.Session) {
					fmt.Fprintf(errOut, "auto-saved draft %s\n", s.ID)
				}),
				client.WithOnAutoSaveError(func(err error) {
					fmt.Fprintf(errOut, "auto-save failed: %v\n", err)
				}),
			}

			var editor *client.Editor
			if id != "" {
				existing, err := c.Get(ctx, id)
				if err != nil {
					return err
				}
				editor = client.OpenEditor(c, existing, opts...)
			} else {
				editor = client.NewEditor(c, opts...)
			}
			defer editor.Close()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				var decodeErr error
				editor.Edit(func(content *model.SessionContent) {
					decodeErr = json.Unmarshal([]byte(line), content)
				})
				if decodeErr != nil {
					return fmt.Errorf("decode edit %q: %w", line, decodeErr)
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read edits: %w", err)
			}

			if discard {
				return nil
			}
			var (
				saved *model.Session
				err   error
			)
			if publish {
				saved, err = editor.Publish(ctx)
			} else {
				saved, err = editor.SaveDraft(ctx)
			}
			if err != nil {
				return err
			}
			return printJSON(out, saved)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Edit an existing session")
	cmd.Flags().DurationVar(&delay, "autosave-delay", 5*time.Second, "Quiet period before an auto-save")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish at end of input instead of saving a draft")
	cmd.Flags().BoolVar(&discard, "discard", false, "Do not save at end of input")
	return cmd
}

func readContent(stdin io.Reader, file string) (model.SessionContent, error) {
	var r io.Reader = stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return model.SessionContent{}, err
		}
		defer f.Close()
		r = f
	}
	var content model.SessionContent
	if err := json.NewDecoder(r).Decode(&content); err != nil {
		if errors.Is(err, io.EOF) {
			return content, errors.New("no session JSON given")
		}
		return content, fmt.Errorf("decode session JSON: %w", err)
	}
	return content, nil
}

// displayTags shows the first three tags.
func displayTags(tags []string) string {
	if len(tags) > 3 {
		return strings.Join(tags[:3], ",") + ",…"
	}
	return strings.Join(tags, ",")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
