package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchCourse  string
	searchChapter string
	searchLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed course material",
	Long:  `Runs a retrieval-only query against the vector index without generating an answer.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchCourse, "course", "c", "", "restrict to a course")
	searchCmd.Flags().StringVar(&searchChapter, "chapter", "", "restrict to a chapter")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 3, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	hits, err := api.Search(context.Background(), args[0], searchCourse, searchChapter, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if outputJSON {
		return printJSON(cmd, hits)
	}
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, h := range hits {
		cmd.Printf("  [%d] %s/%s #%d (%.2f)\n", i+1, h.CourseID, h.ChapterID, h.Sequence, h.Score)
		cmd.Printf("      %s\n", snippet(h.ChunkText, 160))
	}
	return nil
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "..."
}
