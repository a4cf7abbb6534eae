package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/skywalker/internal/agents"
	"github.com/ChamsBouzaiene/skywalker/internal/session"
)

func newTable(out io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func newSessionsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(newSessionsListCmd(flags), newSessionsShowCmd(flags))
	return cmd
}

func openSessions(flags *globalFlags) (*baseEnv, *session.Manager, error) {
	b, err := loadBaseEnv(flags)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := session.NewManager(b.cfg.Sessions.Root, b.logger)
	if err != nil {
		return nil, nil, err
	}
	return b, sessions, nil
}

func newSessionsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, sessions, err := openSessions(flags)
			if err != nil {
				return err
			}
			metas, err := sessions.List()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), table.Row{"Session", "User", "Updated", "Input", "Output", "Total", "Context"})
			for _, m := range metas {
				t.AppendRow(table.Row{m.SessionID, m.User(), m.UpdatedAt.Local().Format(time.DateTime),
					m.InputTokens, m.OutputTokens, m.TotalTokens, m.ContextTokens})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("%d sessions", len(metas))})
			t.Render()
			return nil
		},
	}
}

func newSessionsShowCmd(flags *globalFlags) *cobra.Command {
	var agent string
	var limit int
	cmd := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Print the conversation log of one agent in a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sessions, err := openSessions(flags)
			if err != nil {
				return err
			}
			meta, err := sessions.GetMetadata(args[0])
			if err != nil {
				return err
			}
			msgs, err := sessions.LoadConversation(meta.SessionID, agent)
			if err != nil {
				return err
			}
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s  user %s  created %s\n", meta.SessionID, meta.User(), meta.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "tokens in %d  out %d  total %d  context %d\n", meta.InputTokens, meta.OutputTokens, meta.TotalTokens, meta.ContextTokens)
			fmt.Fprintf(out, "workspace %s\n\n", sessions.SessionDir(meta.SessionID))

			t := newTable(out, table.Row{"Time", "Role", "Content", "Tools"})
			t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 80}})
			for _, m := range msgs {
				var tools []string
				for _, tc := range m.ToolCalls {
					tools = append(tools, tc.Name)
				}
				t.AppendRow(table.Row{m.Timestamp.Local().Format(time.TimeOnly), m.Role, m.Content, strings.Join(tools, ", ")})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&agent, "agent", "a", agents.MainAgent, "conversation to show")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the last N messages")
	return cmd
}

func newAgentsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect declared agents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents declared in the agents directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadBaseEnv(flags)
			if err != nil {
				return err
			}
			configs, loadErr := agents.LoadConfigs(b.cfg.Agents.Dir, b.logger)

			t := newTable(cmd.OutOrStdout(), table.Row{"Name", "Trigger", "Model", "Tools", "Description"})
			t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: 60}})
			for _, c := range configs {
				model := c.Model
				if model == "" {
					model = b.cfg.DefaultModel + " (default)"
				}
				t.AppendRow(table.Row{c.Name, c.Trigger.Type, model, strings.Join(c.Tools.Include, ", "), c.Description})
			}
			t.Render()
			if loadErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n%v\n", loadErr)
			}
			return nil
		},
	})
	return cmd
}
