package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xaenox/midas/internal/classifier"
	"github.com/xaenox/midas/internal/models"
)

func newClassifyCmd() *cobra.Command {
	var (
		topic string
		limit int
		file  string
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify agent log lines read from stdin or a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return classify(in, cmd.OutOrStdout(), classifier.New(), topic, limit)
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "all", "analysis, trade, signal, system or all")
	cmd.Flags().IntVarP(&limit, "limit", "n", classifier.DefaultLimit, "maximum entries to print")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read lines from this file instead of stdin")
	return cmd
}

// classify writes one JSON entry per line, most recent first.
func classify(in io.Reader, out io.Writer, c classifier.Classifier, topic string, limit int) error {
	var t models.LogTopic
	if topic != "" && topic != "all" {
		var ok bool
		if t, ok = models.ParseLogTopic(topic); !ok {
			return fmt.Errorf("unknown topic %q", topic)
		}
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	enc := json.NewEncoder(out)
	for _, e := range classifier.Latest(classifier.ClassifyText(c, string(raw)), classifier.ClampLimit(limit), t) {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
