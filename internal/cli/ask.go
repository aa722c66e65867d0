package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	askSession string
	askStudent string
	askCourse  string
	askChapter string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about course material",
	Long: `Asks the tutor a question. Without --session a new session is started and its id
is printed so follow-up questions can continue the conversation.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "continue an existing session")
	askCmd.Flags().StringVar(&askStudent, "student", "", "student id for a new session")
	askCmd.Flags().StringVarP(&askCourse, "course", "c", "", "restrict retrieval to a course")
	askCmd.Flags().StringVar(&askChapter, "chapter", "", "restrict retrieval to a chapter")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	answer, err := api.Ask(context.Background(), AskParams{
		SessionID: askSession,
		StudentID: askStudent,
		Question:  args[0],
		CourseID:  askCourse,
		ChapterID: askChapter,
	})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	if outputJSON {
		return printJSON(cmd, answer)
	}

	cmd.Println(answer.Answer)
	cmd.Println()
	if answer.Degraded {
		cmd.Println("(the answer service was unavailable; showing a fallback response)")
	}
	cmd.Printf("Confidence: %.2f   Session: %s   (%d ms)\n", answer.Confidence, answer.SessionID, answer.ProcessingTimeMs)
	for i, s := range answer.Sources {
		cmd.Printf("  [%d] %s/%s (%.2f)\n", i+1, s.CourseID, s.ChapterID, s.Score)
	}
	return nil
}
