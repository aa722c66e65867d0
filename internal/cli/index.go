package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	indexCourse  string
	indexChapter string
	indexAsync   bool
)

// plainTextExts are sent as text; anything else is uploaded for extraction.
var plainTextExts = map[string]bool{".txt": true, ".md": true, ".markdown": true}

var indexCmd = &cobra.Command{
	Use:   "index [file]",
	Short: "Index a chapter document",
	Long: `Indexes one chapter from a file. Plain text and markdown files are sent as text;
other formats (pdf, docx, ...) are uploaded and extracted by the server.
Re-indexing a chapter replaces its previous version.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a chapter from the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		removed, err := api.RemoveChapter(context.Background(), indexCourse, indexChapter)
		if err != nil {
			return fmt.Errorf("remove failed: %w", err)
		}
		cmd.Printf("Removed %d chunks from %s/%s\n", removed, indexCourse, indexChapter)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{indexCmd, removeCmd} {
		c.Flags().StringVarP(&indexCourse, "course", "c", "", "course id (required)")
		c.Flags().StringVar(&indexChapter, "chapter", "", "chapter id (required)")
		_ = c.MarkFlagRequired("course")
		_ = c.MarkFlagRequired("chapter")
		rootCmd.AddCommand(c)
	}
	indexCmd.Flags().BoolVar(&indexAsync, "async", false, "queue the chapter for background indexing")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx := context.Background()

	var (
		out map[string]interface{}
		err error
	)
	if plainTextExts[strings.ToLower(filepath.Ext(path))] {
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return fmt.Errorf("failed to read %s: %w", path, rerr)
		}
		out, err = api.IndexText(ctx, indexCourse, indexChapter, string(data), indexAsync)
	} else {
		if indexAsync {
			return fmt.Errorf("--async only supports plain text files")
		}
		f, oerr := os.Open(path)
		if oerr != nil {
			return fmt.Errorf("failed to open %s: %w", path, oerr)
		}
		defer f.Close()
		out, err = api.IndexFile(ctx, indexCourse, indexChapter, filepath.Base(path), f)
	}
	if err != nil {
		return fmt.Errorf("index failed: %w", err)
	}

	if outputJSON {
		return printJSON(cmd, out)
	}
	if indexAsync {
		cmd.Printf("Queued %s/%s (task %v)\n", indexCourse, indexChapter, out["task_id"])
		return nil
	}
	cmd.Printf("Indexed %s/%s: %v chunks, version %v\n", indexCourse, indexChapter, out["chunks_indexed"], out["version"])
	return nil
}
