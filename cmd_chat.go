package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"userchat/internal/worker"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat on stdin until EOF or \"exit\"",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringToString("set", nil, "Configurable overrides, e.g. --set model_name=gpt-4o")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	wf, err := a.workflow(cmd.Context())
	if err != nil {
		return err
	}
	manager, err := a.manager(wf)
	if err != nil {
		return err
	}
	defer manager.Stop()

	overrides, _ := cmd.Flags().GetStringToString("set")
	configurable := make(map[string]any, len(a.cfg.Configurable)+len(overrides))
	for k, v := range a.cfg.Configurable {
		configurable[k] = v
	}
	for k, v := range overrides {
		configurable[k] = v
	}

	sessionID := uuid.NewString()
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out, "> ")
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
		case line == "exit" || line == "quit":
			return nil
		default:
			res, err := manager.Turn(worker.TurnRequest{
				Context:      cmd.Context(),
				SessionID:    sessionID,
				Content:      line,
				Configurable: configurable,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Reply.Content)
		}
		fmt.Fprint(out, "> ")
	}
	return in.Err()
}
