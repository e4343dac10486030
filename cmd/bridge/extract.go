package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"taskingbot-bridge/internal/action"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract the action block from assistant text without running it",
	Long: `Read assistant text from a file (or stdin) and print the actions found in
its [ACTIONS]...[/ACTIONS] block or json fence, together with the text that
remains once the block is removed. No browser is started.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	in, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read text: %w", err)
	}

	clean, actions := action.ExtractFromText(string(raw))
	if actions == nil {
		actions = []action.Action{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"clean_text": clean,
		"count":      len(actions),
		"actions":    actions,
	})
}
