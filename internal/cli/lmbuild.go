package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ieee0824/ctceval/language"
)

func (c *CLI) newLMBuildCommand() *cobra.Command {
	var (
		order  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "lmbuild [input-files...]",
		Short: "Build an ARPA n-gram language model from transcripts",
		Long: `Builds a Witten-Bell smoothed ARPA n-gram model.
Input: one transcript per line, words separated by spaces.
If no input files are given, reads from stdin.`,
		Example: `  ctceval lmbuild --order 3 --output lm.arpa train.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := language.NewBuilder(order)
			sentences := 0
			if len(args) == 0 {
				n, err := b.ReadLines(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				sentences = n
			}
			for _, path := range args {
				n, err := readTranscripts(b, path)
				if err != nil {
					return err
				}
				sentences += n
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if err := b.WriteARPA(w); err != nil {
				return fmt.Errorf("write ARPA: %w", err)
			}
			slog.Info("Built language model", "order", b.Order(), "sentences", sentences)
			return nil
		},
	}

	cmd.Flags().IntVar(&order, "order", 3, "n-gram order (2=bigram, 3=trigram)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func readTranscripts(b *language.Builder, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	n, err := b.ReadLines(f)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", path, err)
	}
	return n, nil
}
