package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"taskingbot-bridge/internal/action"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute one batch of actions from a file or stdin",
	Long: `Read an action list as YAML or JSON from a file (or stdin when the
argument is omitted or "-") and run it once against the host tab.

The input is either a list of actions or an object with an "actions" list:

  - type: navigate
    url: https://example.com
  - type: click
    text: More information

Results and the composite report are printed as JSON on stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatch,
}

func init() {
	runCmd.Flags().String("url", "", "Navigate the host tab here before the batch")
	runCmd.Flags().Bool("share-screen", false, "Stream the host tab for screen_capture actions")
	rootCmd.AddCommand(runCmd)
}

// readActions decodes a YAML or JSON action list.
func readActions(r io.Reader) ([]action.Action, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}
	var parsed interface{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	actions := action.DecodeAll(action.ListFrom(parsed))
	if len(actions) == 0 {
		return nil, errors.New("no actions found in input")
	}
	return actions, nil
}

func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(args[0])
}

func runBatch(cmd *cobra.Command, args []string) error {
	in, err := openInput(args)
	if err != nil {
		return err
	}
	actions, err := readActions(in)
	in.Close()
	if err != nil {
		return err
	}
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		nav := action.Decode(map[string]interface{}{"id": "initial_navigate", "type": "navigate", "url": url}, 0)
		actions = append([]action.Action{nav}, actions...)
	}

	cfg, wsDir, err := loadConfig()
	if err != nil {
		return err
	}
	share, _ := cmd.Flags().GetBool("share-screen")
	a, err := newApp(cfg, wsDir, appOptions{shareScreen: share})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	performed, err := a.newPanel().PerformActions(cmd.Context(), actions)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(performed); err != nil {
		return err
	}
	if performed.Status != "completed" {
		return fmt.Errorf("batch %s %s", performed.BatchID, performed.Status)
	}
	return nil
}
