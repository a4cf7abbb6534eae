package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/skywalker/internal/agents"
)

type conversationFlags struct {
	sessionID string
	userID    string
	agent     string
}

func (f *conversationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.sessionID, "session", "s", "", "session ID (default: the user's latest session, created if missing)")
	cmd.Flags().StringVarP(&f.userID, "user", "u", "local", "user ID")
	cmd.Flags().StringVarP(&f.agent, "agent", "a", agents.MainAgent, "agent to address")
}

// resolveSession returns the requested session, or the user's session.
func resolveSession(env *runtimeEnv, f *conversationFlags) (string, error) {
	if f.sessionID != "" {
		if !env.sessions.Exists(f.sessionID) {
			return "", fmt.Errorf("session %q does not exist", f.sessionID)
		}
		return f.sessionID, nil
	}
	id, created, err := env.sessions.GetOrCreateForUser(f.userID)
	if err != nil {
		return "", err
	}
	if created {
		env.logger.Info("session created", zap.String("session_id", id), zap.String("user_id", f.userID))
	}
	return id, nil
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	cf := &conversationFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := prepareRuntimeEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer env.Close()
			env.serveMetrics(ctx)

			sid, err := resolveSession(env, cf)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session %s, agent %s (ctrl-d to quit)\n", sid, cf.agent)
			return chatLoop(ctx, env.manager, cmd.InOrStdin(), cmd.OutOrStdout(), agents.Request{
				Agent:     cf.agent,
				SessionID: sid,
				UserID:    cf.userID,
			})
		},
	}
	cf.register(cmd)
	return cmd
}

func chatLoop(ctx context.Context, m *agents.Manager, in io.Reader, out io.Writer, base agents.Request) error {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "you> ")
		if !s.Scan() {
			fmt.Fprintln(out)
			return s.Err()
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if line == "/clear" {
			n := m.ClearCache(base.SessionID)
			fmt.Fprintf(out, "cleared %d cached executor(s)\n", n)
			continue
		}

		req := base
		req.Message = line
		resp := m.GetResponse(ctx, req)
		if ctx.Err() != nil {
			return nil
		}
		printResponse(out, resp)
	}
}

func printResponse(out io.Writer, resp agents.Response) {
	if !resp.Success {
		fmt.Fprintf(out, "error: %s\n\n", resp.Error)
		return
	}
	fmt.Fprintf(out, "%s\n", resp.Response)
	if len(resp.ToolCalls) > 0 {
		fmt.Fprintf(out, "[tools: %s]\n", strings.Join(resp.ToolCalls, ", "))
	}
	fmt.Fprintln(out)
}

func newAskCmd(flags *globalFlags) *cobra.Command {
	cf := &conversationFlags{}
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask MESSAGE",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := prepareRuntimeEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer env.Close()

			sid, err := resolveSession(env, cf)
			if err != nil {
				return err
			}
			resp := env.manager.GetResponse(ctx, agents.Request{
				Agent:     cf.agent,
				SessionID: sid,
				UserID:    cf.userID,
				Message:   strings.Join(args, " "),
			})
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return err
				}
			} else {
				printResponse(cmd.OutOrStdout(), resp)
			}
			if !resp.Success {
				return errTurnFailed
			}
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the structured response as JSON")
	return cmd
}
